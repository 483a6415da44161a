// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewTagStore(newTestDB(t))

	linux, err := store.Create(ctx, " linux ", 0xff0000)
	require.NoError(t, err)
	assert.Equal(t, "linux", linux.Name)

	_, err = store.Create(ctx, "LINUX", 0)
	require.ErrorIs(t, err, ErrTagExists)

	_, err = store.Create(ctx, "   ", 0)
	require.Error(t, err)

	_, err = store.Create(ctx, "anime", 0)
	require.NoError(t, err)

	tags, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "anime", tags[0].Name)

	require.NoError(t, store.Delete(ctx, linux.ID))
	require.ErrorIs(t, store.Delete(ctx, linux.ID), ErrTagNotFound)

	_, err = store.Get(ctx, linux.ID)
	require.ErrorIs(t, err, ErrTagNotFound)
}

func TestTagStoreTorrentAssignments(t *testing.T) {
	ctx := context.Background()
	store := NewTagStore(newTestDB(t))

	linux, err := store.Create(ctx, "linux", 0)
	require.NoError(t, err)
	iso, err := store.Create(ctx, "iso", 0)
	require.NoError(t, err)

	require.NoError(t, store.SetTorrentTags(ctx, "a", []int{linux.ID, iso.ID}))
	require.NoError(t, store.SetTorrentTags(ctx, "b", []int{linux.ID}))
	require.NoError(t, store.SetTorrentTags(ctx, "b", []int{iso.ID}))

	err = store.SetTorrentTags(ctx, "c", []int{9999})
	require.ErrorIs(t, err, ErrTagNotFound)

	byTorrent, err := store.TagsForTorrents(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, byTorrent["a"], 2)
	assert.Equal(t, "iso", byTorrent["a"][0].Name)
	require.Len(t, byTorrent["b"], 1)
	assert.Equal(t, iso.ID, byTorrent["b"][0].ID)
	assert.NotContains(t, byTorrent, "c")

	// deleting a tag cascades to assignments
	require.NoError(t, store.Delete(ctx, iso.ID))
	byTorrent, err = store.TagsForTorrents(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, byTorrent["a"], 1)
	assert.NotContains(t, byTorrent, "b")

	require.NoError(t, store.RemoveTorrents(ctx, []string{"a"}))
	byTorrent, err = store.TagsForTorrents(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, byTorrent)
}

func TestTagStoreTagsForManyTorrents(t *testing.T) {
	ctx := context.Background()
	store := NewTagStore(newTestDB(t))

	tag, err := store.Create(ctx, "bulk", 0)
	require.NoError(t, err)

	ids := make([]string, 0, 1000)
	for i := range 1000 {
		id := fmt.Sprintf("t%04d", i)
		ids = append(ids, id)
		if i%100 == 0 {
			require.NoError(t, store.SetTorrentTags(ctx, id, []int{tag.ID}))
		}
	}

	byTorrent, err := store.TagsForTorrents(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, byTorrent, 10)
}
