package netclient

import (
	"context"

	"github.com/google/uuid"
	"github.com/sessamekesh/netsync/pkg/connection"
)

// HeadlessSceneLoader completes every load immediately. Used by bots and headless tools
// that have no scene assets to load.
type HeadlessSceneLoader struct{}

func (HeadlessSceneLoader) LoadSceneAsync(_ context.Context, sceneId uuid.UUID) <-chan connection.SceneLoadResult {
	out := make(chan connection.SceneLoadResult, 1)
	out <- connection.SceneLoadResult{SceneId: sceneId}
	return out
}

var _ connection.SceneLoader = HeadlessSceneLoader{}
