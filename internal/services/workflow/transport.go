package workflow

import (
	"context"

	"github.com/r254650549/rural-demo/internal/api"
	"github.com/r254650549/rural-demo/internal/models"
)

// Transport is the subset of the imagery server client the workflow drives.
// *api.Client implements it.
type Transport interface {
	UploadImages(ctx context.Context, files []api.File, opts api.UploadOptions) (*api.UploadResponse, error)
	UploadVideos(ctx context.Context, files []api.File) (*api.UploadResponse, error)
	ProcessGroundImages(ctx context.Context, in api.StitchRequest) (*api.StitchResponse, error)
	ProcessGroundVideo(ctx context.Context, in api.VideoRequest) (*api.VideoResponse, error)
	ExtractTargets(ctx context.Context, in api.ExtractRequest) (*api.ExtractResponse, error)
	PathExists(ctx context.Context, ref string) (bool, error)
}

// Ledger records completed stages. *history.Ledger implements it.
type Ledger interface {
	Append(ctx context.Context, entry *models.HistoryEntry) error
}

var _ Transport = (*api.Client)(nil)
