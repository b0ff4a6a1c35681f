// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package ioutil_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-pico-vfs/internal/ioutil"
)

func TestReadFullAtFillsBuffer(t *testing.T) {
	r := bytes.NewReader([]byte("0123456789"))

	buf := make([]byte, 4)
	require.NoError(t, ioutil.ReadFullAt(r, buf, 3))
	assert.Equal(t, "3456", string(buf))
}

func TestReadFullAtShortSourceIsUnexpectedEOF(t *testing.T) {
	r := bytes.NewReader([]byte("short"))

	buf := make([]byte, 10)
	err := ioutil.ReadFullAt(r, buf, 0)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
