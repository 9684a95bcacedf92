// Package services contains the relay's business logic: provisioning
// experiments against OSF and managing users' OSF connections.
package services

import (
	"context"

	"github.com/dmitrijs2005/osfrelay/internal/server/osf"
)

// OSFClient is the part of the OSF API the services call. *osf.Client
// implements it.
type OSFClient interface {
	CreateChildNode(ctx context.Context, token, parentID string, attrs osf.NodeAttributes) (*osf.Node, error)
	ListFiles(ctx context.Context, token, filesLink string) ([]osf.StorageProvider, error)
	DeleteNode(ctx context.Context, token, nodeID string) error
	CurrentUser(ctx context.Context, token string) (*osf.User, error)
}

// TokenSealer encrypts OSF tokens at rest. *cryptox.Sealer implements it.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}
