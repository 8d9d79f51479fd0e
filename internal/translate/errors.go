package translate

import "errors"

var errEmptyCode = errors.New("backend returned an empty language code")
