// Package require includes test assertions that fail the test immediately.
// This is like testify, but without the dependency — scoped to what this
// module's own low-level package tests need.
package require

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
)

// TestingT is an interface wrapper of the *testing.T functions used here.
type TestingT interface {
	Fatal(args ...interface{})
}

// Equal fails if the actual value is not equal to the expected.
//
//   - formatWithArgs are optional. When the first is a string that contains '%', it is treated like fmt.Sprintf.
func Equal(t TestingT, expected, actual interface{}, formatWithArgs ...interface{}) {
	if equal(expected, actual) {
		return
	}
	fail(t, "unexpected value", fmt.Sprintf("expected:\n\t%#v\nwas:\n\t%#v\n", expected, actual), formatWithArgs...)
}

// equal speculatively tries to cast the inputs as byte slices, since
// encoded-instruction comparisons are the common case here, and falls back
// to reflection otherwise.
func equal(expected, actual interface{}) bool {
	if b1, ok := expected.([]byte); ok {
		b2, ok := actual.([]byte)
		return ok && bytes.Equal(b1, b2)
	}
	return reflect.DeepEqual(expected, actual)
}

// True fails if the actual value wasn't.
func True(t TestingT, actual bool, formatWithArgs ...interface{}) {
	if !actual {
		fail(t, "expected true, but was false", "", formatWithArgs...)
	}
}

// False fails if the actual value was true.
func False(t TestingT, actual bool, formatWithArgs ...interface{}) {
	if actual {
		fail(t, "expected false, but was true", "", formatWithArgs...)
	}
}

// NoError fails if the err is not nil.
func NoError(t TestingT, err error, formatWithArgs ...interface{}) {
	if err != nil {
		fail(t, fmt.Sprintf("expected no error, but was %v", err), "", formatWithArgs...)
	}
}

// Error fails if the err is nil.
func Error(t TestingT, err error, formatWithArgs ...interface{}) {
	if err == nil {
		fail(t, "expected an error, but was nil", "", formatWithArgs...)
	}
}

// ErrorIs fails if the err is nil or does not match target via errors.Is.
func ErrorIs(t TestingT, err, target error, formatWithArgs ...interface{}) {
	if err == nil {
		fail(t, "expected an error, but was nil", "", formatWithArgs...)
		return
	}
	if !errorsIs(err, target) {
		fail(t, fmt.Sprintf("expected errors.Is(%v, %v), but it wasn't", err, target), "", formatWithArgs...)
	}
}

func errorsIs(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Nil fails if the object is not nil.
func Nil(t TestingT, object interface{}, formatWithArgs ...interface{}) {
	if !isNil(object) {
		fail(t, fmt.Sprintf("expected nil, but was %v", object), "", formatWithArgs...)
	}
}

// NotNil fails if the object is nil.
func NotNil(t TestingT, object interface{}, formatWithArgs ...interface{}) {
	if isNil(object) {
		fail(t, "expected to not be nil", "", formatWithArgs...)
	}
}

// isNil is less efficient for the sake of less code vs tracking all the nil types in Go.
func isNil(object interface{}) (result bool) {
	if object == nil {
		return true
	}
	v := reflect.ValueOf(object)
	defer func() {
		if recovered := recover(); recovered != nil {
			result = false
		}
	}()
	result = v.IsNil()
	return
}

// Panics fails unless fn panics.
func Panics(t TestingT, fn func(), formatWithArgs ...interface{}) {
	defer func() {
		if recover() == nil {
			fail(t, "expected a panic, but there wasn't one", "", formatWithArgs...)
		}
	}()
	fn()
}

// fail tries to treat the formatWithArgs as fmt.Sprintf parameters or joins on space.
func fail(t TestingT, m1, m2 string, formatWithArgs ...interface{}) {
	var failure string
	if len(formatWithArgs) > 0 {
		if s, ok := formatWithArgs[0].(string); ok && strings.Contains(s, "%") {
			failure = fmt.Sprintf(m1+": "+s, formatWithArgs[1:]...)
		} else {
			var builder strings.Builder
			builder.WriteString(fmt.Sprintf("%s: %v", m1, formatWithArgs[0]))
			for _, v := range formatWithArgs[1:] {
				builder.WriteByte(' ')
				builder.WriteString(fmt.Sprintf("%v", v))
			}
			failure = builder.String()
		}
	} else {
		failure = m1
	}
	if m2 != "" {
		failure = failure + "\n" + m2
	}
	t.Fatal(failure)
}
