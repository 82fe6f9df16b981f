package engine

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/ut-runner/metrics"
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

// Dispatch decodes one wire payload and hands the event to onEvent.
// Payloads that do not decode are logged, counted and skipped.
// It reports whether the delivered event was the post-run event.
func Dispatch(lgr log.Logger, payload []byte, onEvent func(types.Event)) bool {
	ev, err := types.DecodeEvent(payload)
	if err != nil {
		lgr.Warn("Skipping undecodable event", "err", err, "bytes", len(payload))
		metrics.RecordDecodeError()
		return false
	}
	onEvent(ev)
	return ev.Type == types.EventPostRun
}
