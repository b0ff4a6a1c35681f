// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vfs_test

import (
	"context"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-pico-vfs/vfs"
)

func TestRootDirEnumeratesNamedMountsOnly(t *testing.T) {
	r := vfs.NewRegistry()
	_, err := r.Init()
	require.NoError(t, err)

	_, err = r.Register("/a", &memFS{name: "a"})
	require.NoError(t, err)
	_, err = r.Register("/b", &memFS{name: "b"})
	require.NoError(t, err)
	_, err = r.RegisterFDRange(&memFS{name: "stdio"}, 0, 0)
	require.NoError(t, err)

	ctx := context.Background()

	dir, err := r.OpenDir(ctx, "/")
	require.NoError(t, err)

	var names []string

	for {
		ent, readErr := r.ReadDir(ctx, dir)
		require.NoError(t, readErr)

		if ent == nil {
			break
		}

		names = append(names, ent.Name)
		assert.True(t, ent.IsDir)
	}

	assert.ElementsMatch(t, []string{"a", "b"}, names)
	require.NoError(t, r.CloseDir(ctx, dir))
}

func TestRootDirOpenDirRejectsNonRootPath(t *testing.T) {
	r := vfs.NewRegistry()
	_, err := r.Init()
	require.NoError(t, err)

	_, err = r.OpenDir(context.Background(), "/nope")
	require.ErrorIs(t, err, syscall.ENOENT)
}

func TestRootDirTellAndSeekRoundTrip(t *testing.T) {
	r := vfs.NewRegistry()
	_, err := r.Init()
	require.NoError(t, err)

	_, err = r.Register("/a", &memFS{name: "a"})
	require.NoError(t, err)

	ctx := context.Background()

	dir, err := r.OpenDir(ctx, "/")
	require.NoError(t, err)

	_, err = r.ReadDir(ctx, dir)
	require.NoError(t, err)

	pos, err := r.TellDir(ctx, dir)
	require.NoError(t, err)
	assert.Positive(t, pos)

	require.NoError(t, r.SeekDir(ctx, dir, 0))

	first, err := r.ReadDir(ctx, dir)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a", first.Name)

	require.NoError(t, r.SeekDir(ctx, dir, 1000))

	end, err := r.ReadDir(ctx, dir)
	require.NoError(t, err)
	assert.Nil(t, end, "seeking past the last slot must read as end-of-directory")
}
