package capture

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
)

// ErrRefRevoked is returned by [ArtifactRef.Open] after the ref has been
// revoked by a later Finalize on the same resource or by Release.
var ErrRefRevoked = errors.New("capture: artifact ref revoked")

// Artifact is the finalized audio recording produced by one session: all
// collected chunks packaged into a single payload.
type Artifact struct {
	Data        []byte
	ContentType string
}

// ArtifactRef is the single live handle to a finalized [Artifact]. It is the
// in-process analogue of an object URL: at most one live ref exists per
// resource, creating a new one revokes the previous one, and revocation makes
// the data unreachable through the ref.
type ArtifactRef struct {
	mu       sync.Mutex
	artifact *Artifact
	revoked  bool
}

// Open returns a reader over the artifact payload, or [ErrRefRevoked] once
// the ref has been revoked.
func (r *ArtifactRef) Open() (*bytes.Reader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revoked {
		return nil, ErrRefRevoked
	}
	return bytes.NewReader(r.artifact.Data), nil
}

// ContentType returns the artifact MIME type, or "" once revoked.
func (r *ArtifactRef) ContentType() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revoked {
		return ""
	}
	return r.artifact.ContentType
}

// Revoked reports whether the ref has been revoked.
func (r *ArtifactRef) Revoked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revoked
}

func (r *ArtifactRef) revoke() {
	r.mu.Lock()
	r.revoked = true
	r.artifact = nil
	r.mu.Unlock()
}

// Resource owns the capture stream and recorded audio for exactly one
// recording session. All methods are safe for concurrent use.
//
// Lifecycle: acquire → collect… → Finalize → Release. Release is idempotent
// and must be invoked on every exit path; after it returns, no hardware track
// remains open and no live artifact ref exists.
type Resource struct {
	mu          sync.Mutex
	stream      Stream
	stopped     bool
	chunks      [][]byte
	contentType string
	ref         *ArtifactRef
	released    bool
}

// acquire opens the device stream and transfers ownership to the resource.
// Failure is mapped by the caller; acquire itself just propagates the
// device's sentinel-wrapped error.
func (r *Resource) acquire(stream Stream, contentType string) {
	r.mu.Lock()
	r.stream = stream
	r.contentType = contentType
	r.mu.Unlock()
}

// collect appends one captured chunk. Chunks arriving after Release are
// dropped.
func (r *Resource) collect(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	if !r.released {
		// Copy: the stream may reuse its buffer for the next chunk.
		r.chunks = append(r.chunks, bytes.Clone(chunk))
	}
	r.mu.Unlock()
}

// Finalize packages the collected chunks into a single [Artifact] and mints
// exactly one live [ArtifactRef] for it, revoking any ref from a prior
// Finalize on the same resource first.
//
// Returns an error wrapping [ErrCaptureFailed] when no audio was collected or
// the resource was already released.
func (r *Resource) Finalize() (*ArtifactRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return nil, fmt.Errorf("%w: resource already released", ErrCaptureFailed)
	}

	var size int
	for _, c := range r.chunks {
		size += len(c)
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: no audio collected", ErrCaptureFailed)
	}

	data := make([]byte, 0, size)
	for _, c := range r.chunks {
		data = append(data, c...)
	}

	// Revoke-previous-before-create-next: at most one live ref per resource.
	if r.ref != nil {
		r.ref.revoke()
	}
	r.ref = &ArtifactRef{artifact: &Artifact{Data: data, ContentType: r.contentType}}
	return r.ref, nil
}

// stopStream stops the underlying hardware tracks exactly once. Safe to call
// without holding a finalized artifact; used by the session when recording
// ends and again (harmlessly) from Release.
func (r *Resource) stopStream() error {
	r.mu.Lock()
	stream := r.stream
	alreadyStopped := r.stopped
	r.stopped = true
	r.mu.Unlock()

	if stream == nil || alreadyStopped {
		return nil
	}
	return stream.Stop()
}

// Release stops all underlying hardware tracks and revokes the current
// artifact ref. It is idempotent and never fails on repeated calls; the
// returned error reports a track-stop failure on the first call only.
func (r *Resource) Release() error {
	err := r.stopStream()

	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	ref := r.ref
	r.ref = nil
	r.chunks = nil
	r.stream = nil
	r.mu.Unlock()

	if ref != nil {
		ref.revoke()
	}
	return err
}

// LiveRefs reports the number of live (unrevoked) artifact refs held by the
// resource. By construction the value is 0 or 1.
func (r *Resource) LiveRefs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ref != nil && !r.ref.Revoked() {
		return 1
	}
	return 0
}
