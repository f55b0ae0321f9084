// Copyright 2025 Joseph Cumines

package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidElement_ZeroHandleIsInvalid(t *testing.T) {
	fp := newFakePlatform()
	assert.False(t, IsValidElement(fp, nil, 100))
	assert.False(t, IsValidElement(fp, ZeroHandle, 100))
}

func TestIsValidElement_CannotCompleteIsDead(t *testing.T) {
	fp := newFakePlatform()
	h := NewToken(1)
	fp.geometryErr[h] = ErrCannotComplete
	assert.False(t, IsValidElement(fp, h, 100))
}

func TestIsValidElement_MembershipByEquality(t *testing.T) {
	fp := newFakePlatform()
	h := NewToken(1)
	fp.geometry[h] = geomEntry{size: Size{Width: 100, Height: 100}}
	fp.windowHandles[100] = []Handle{NewToken(1)}
	assert.True(t, IsValidElement(fp, h, 100))
}

func TestIsValidElement_MembershipByWindowID(t *testing.T) {
	fp := newFakePlatform()
	// Two distinct tokens that resolve to the same compositor window id.
	cached := NewToken(1)
	listed := NewToken(2)
	fp.geometry[cached] = geomEntry{size: Size{Width: 100, Height: 100}}
	fp.windowHandles[100] = []Handle{listed}
	fp.handleToID[cached] = 42
	fp.handleToID[listed] = 42
	assert.True(t, IsValidElement(fp, cached, 100))
}

func TestIsValidElement_AbsentFromListIsInvalid(t *testing.T) {
	fp := newFakePlatform()
	h := NewToken(1)
	fp.geometry[h] = geomEntry{size: Size{Width: 100, Height: 100}}
	fp.windowHandles[100] = []Handle{NewToken(2)}
	assert.False(t, IsValidElement(fp, h, 100))
}

func TestIsValidElement_ListFailureIsConservativelyValid(t *testing.T) {
	fp := newFakePlatform()
	h := NewToken(1)
	fp.geometry[h] = geomEntry{size: Size{Width: 100, Height: 100}}
	fp.windowListErr[100] = errors.New("application unresponsive")
	assert.True(t, IsValidElement(fp, h, 100))
}

func TestIsValidElement_OtherGeometryErrorIsNotFatal(t *testing.T) {
	fp := newFakePlatform()
	h := NewToken(1)
	fp.geometryErr[h] = errors.New("attribute temporarily unavailable")
	fp.windowHandles[100] = []Handle{NewToken(1)}
	assert.True(t, IsValidElement(fp, h, 100))
}
