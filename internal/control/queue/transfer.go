package queue

import (
	"context"
	"fmt"

	"github.com/coissac/pmomusic/internal/control/eventbus"
)

// TransferQueue implements spec.md §4.5's cross-renderer transfer_queue:
// snapshot src, detach its playlist, clear dst, append each item to dst,
// then attach a playlist descriptor on dst. On any failure dst is left
// empty and TransferFailed is published; src is never altered.
//
// Grounded on internal/sonos/play.go's queue-mutation call shape
// (sequential SOAP calls with no cross-device transaction), since
// neither UPnP nor OpenHome offer an atomic multi-device queue move.
func TransferQueue(ctx context.Context, bus *eventbus.Bus, srcID, dstID string, src, dst *Queue, playlistDescriptor string) error {
	items, err := src.Snapshot(ctx)
	if err != nil {
		publishTransferFailed(bus, srcID, dstID, err)
		return fmt.Errorf("queue: transfer snapshot src=%s: %w", srcID, err)
	}

	if err := src.backend.DetachPlaylist(ctx); err != nil {
		publishTransferFailed(bus, srcID, dstID, err)
		return fmt.Errorf("queue: transfer detach src=%s: %w", srcID, err)
	}

	if err := dst.Clear(ctx); err != nil {
		publishTransferFailed(bus, srcID, dstID, err)
		return fmt.Errorf("queue: transfer clear dst=%s: %w", dstID, err)
	}

	for _, item := range items {
		if _, err := dst.Append(ctx, item); err != nil {
			// Leave dst empty on any failure, per spec.md §4.5.
			_ = dst.Clear(ctx)
			publishTransferFailed(bus, srcID, dstID, err)
			return fmt.Errorf("queue: transfer append item=%s dst=%s: %w", item.ID, dstID, err)
		}
	}

	if err := dst.backend.AttachPlaylist(ctx, playlistDescriptor); err != nil {
		_ = dst.Clear(ctx)
		publishTransferFailed(bus, srcID, dstID, err)
		return fmt.Errorf("queue: transfer attach dst=%s: %w", dstID, err)
	}

	return nil
}

func publishTransferFailed(bus *eventbus.Bus, srcID, dstID string, cause error) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.TransferFailed, dstID, map[string]string{
		"src_id": srcID,
		"dst_id": dstID,
		"error":  cause.Error(),
	})
}
