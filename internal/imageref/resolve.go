// Package imageref validates container image references and resolves
// their registry digest before the provisioner hands them to the
// runtime adapter.
package imageref

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/krinkuto11/ace-orchestrator/internal/orcherr"
)

// resolveTimeout bounds the registry round-trip independently of the
// caller's context, since an inbound HTTP request carries no deadline
// of its own.
const resolveTimeout = 5 * time.Second

// Resolved holds the parsed reference and its resolved digest.
type Resolved struct {
	Ref    string
	Digest string
}

// Resolve parses imageRef and fetches its manifest digest from the
// registry, failing fast on a malformed reference before any port is
// reserved or any container created.
func Resolve(ctx context.Context, imageRef string) (*Resolved, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return nil, &orcherr.ValidationError{Field: "image", Reason: fmt.Sprintf("malformed reference %q: %v", imageRef, err)}
	}

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	desc, err := remote.Get(ref, remote.WithContext(ctx))
	if err != nil {
		return nil, &orcherr.RuntimeTransient{Cause: fmt.Errorf("resolve %s: %w", imageRef, err)}
	}

	return &Resolved{Ref: imageRef, Digest: desc.Digest.String()}, nil
}
