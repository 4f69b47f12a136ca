package pipeline

import (
	"context"
	"fmt"
)

// Builder produces the artifact reference a pipeline deploys. Container
// build mechanics are outside this system; the builder only reports which
// already-built artifact the run should carry.
type Builder interface {
	Build(ctx context.Context, environment string) (string, error)
}

// StaticBuilder hands out a fixed artifact reference, the normal mode when
// the artifact is produced by an external CI system and passed in.
type StaticBuilder struct {
	ArtifactRef string
}

func (b StaticBuilder) Build(ctx context.Context, environment string) (string, error) {
	if b.ArtifactRef == "" {
		return "", fmt.Errorf("%w: artifact reference", ErrMissingPipelineInput)
	}
	return b.ArtifactRef, nil
}
