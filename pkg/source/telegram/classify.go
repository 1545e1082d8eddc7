package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/tgerr"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/source"
)

// classify maps transport and RPC failures onto the source error taxonomy:
// rate limits become wait errors carrying the server's figure, 5xx and
// connection-level failures become transient, everything else is permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return source.Wait("flood", wait, err)
	}
	if slow, ok := tgerr.AsType(err, "SLOWMODE_WAIT"); ok {
		return source.Wait("slowmode", time.Duration(slow.Argument)*time.Second, err)
	}
	var rpc *tgerr.Error
	if errors.As(err, &rpc) {
		if rpc.Code == 420 {
			return source.Wait("flood", time.Duration(rpc.Argument)*time.Second, err)
		}
		if rpc.Code >= 500 {
			return source.Transient(err)
		}
		return err
	}
	// Non-RPC failures out of gotd are connection-level.
	return source.Transient(err)
}
