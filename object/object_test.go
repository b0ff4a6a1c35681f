// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package object_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-pico-vfs/object"
)

func TestInitOwnsOneReference(t *testing.T) {
	var o object.Object

	freed := false
	o.Init(func() { freed = true })

	assert.EqualValues(t, 1, o.RefCount())

	// Init's reference is the only one outstanding, so a single Unref
	// tears the object down.
	assert.False(t, o.Unref())
	assert.True(t, freed)
}

func TestInitNoRefStartsAtZero(t *testing.T) {
	var o object.Object

	freed := false
	o.InitNoRef(func() { freed = true })

	assert.EqualValues(t, 0, o.RefCount())

	o.Ref()
	assert.EqualValues(t, 1, o.RefCount())

	assert.False(t, o.Unref())
	assert.True(t, freed)
}

func TestRefUnrefBalance(t *testing.T) {
	var o object.Object

	dealloced := 0
	o.Init(func() { dealloced++ })

	o.Ref()
	o.Ref()
	assert.EqualValues(t, 3, o.RefCount())

	assert.True(t, o.Unref())
	assert.True(t, o.Unref())
	assert.False(t, o.Unref())

	assert.Equal(t, 1, dealloced)
}

func TestUnrefOfDeadObjectPanics(t *testing.T) {
	var o object.Object
	o.Init(func() {})

	require.False(t, o.Unref())

	assert.Panics(t, func() {
		o.Unref()
	})
}

func TestRefOverflowPanics(t *testing.T) {
	var o object.Object
	o.InitNoRef(func() {})

	assert.Panics(t, func() {
		for i := 0; i < 255; i++ {
			o.Ref()
		}
	})
}
