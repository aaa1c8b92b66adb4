// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid input")
	assert.Equal(t, "invalid input", err.Error())

	wrapped := Wrap(err, KindInternal, "failed to validate")
	assert.Equal(t, "failed to validate: invalid input", wrapped.Error())
}

func TestGetKind(t *testing.T) {
	err := New(KindValidation, "invalid input")
	assert.Equal(t, KindValidation, GetKind(err))

	wrapped := Wrap(err, KindInternal, "failed")
	assert.Equal(t, KindInternal, GetKind(wrapped))

	assert.Equal(t, KindUnknown, GetKind(errors.New("std error")))
}

func TestAttributes(t *testing.T) {
	err := New(KindValidation, "invalid input")
	err = Attr(err, "field", "port")
	err = Attr(err, "value", 80)

	attrs := GetAttributes(err)
	assert.Equal(t, "port", attrs["field"])
	assert.Equal(t, 80, attrs["value"])

	wrapped := Wrap(err, KindInternal, "failed")
	wrapped = Attr(wrapped, "operation", "start")

	allAttrs := GetAttributes(wrapped)
	assert.Equal(t, "port", allAttrs["field"])
	assert.Equal(t, "start", allAttrs["operation"])
}
