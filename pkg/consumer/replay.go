package consumer

import (
	"fmt"
	"time"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/docstore"
)

// watermarkLayout keeps fractional seconds at fixed width so watermark
// strings compare correctly as strings. RFC3339Nano trims zeros and
// would not.
const watermarkLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ReplayContext names an explicit re-processing run. When nil, the
// consumer is in its default mode and replay guards are skipped entirely.
type ReplayContext struct {
	RunID    string
	Consumer string
	Topic    string
}

// appliedMarkerID builds the stable id of a replay-applied marker. The
// dedupe key prefers the producer-assigned eventId so a replay recognizes
// an event it applied under a different messageId.
func (r ReplayContext) appliedMarkerID(dedupeKey string) string {
	return NormalizeDocID(fmt.Sprintf("%s__%s__%s", r.Consumer, r.Topic, dedupeKey))
}

// progressMarkerID is one watermark document per (consumer, topic).
func (r ReplayContext) progressMarkerID() string {
	return NormalizeDocID(fmt.Sprintf("%s__%s", r.Consumer, r.Topic))
}

// alreadyApplied checks the replay-applied marker inside tx.
func (r ReplayContext) alreadyApplied(tx docstore.Tx, dedupeKey string) (bool, error) {
	_, exists, err := tx.Get(CollectionApplied, r.appliedMarkerID(dedupeKey))
	return exists, err
}

// markApplied records that this run applied the event, and advances the
// run's watermarks and touched-topic set.
func (r ReplayContext) markApplied(tx docstore.Tx, dedupeKey string, eventTime, now time.Time) error {
	marker := docstore.Doc{
		"run_id":     r.RunID,
		"consumer":   r.Consumer,
		"topic":      r.Topic,
		"dedupe_key": dedupeKey,
		"applied_at": now.UTC().Format(time.RFC3339Nano),
	}
	if err := tx.Set(CollectionApplied, r.appliedMarkerID(dedupeKey), marker); err != nil {
		return err
	}
	if err := r.advanceProgress(tx, eventTime, now, true); err != nil {
		return err
	}
	return r.touchRun(tx, now)
}

// markSeen advances only the lastSeen watermark, for events the run
// observed but did not apply.
func (r ReplayContext) markSeen(tx docstore.Tx, eventTime, now time.Time) error {
	if err := r.advanceProgress(tx, eventTime, now, false); err != nil {
		return err
	}
	return r.touchRun(tx, now)
}

func (r ReplayContext) advanceProgress(tx docstore.Tx, eventTime, now time.Time, applied bool) error {
	doc, _, err := tx.Get(CollectionReplayMarks, r.progressMarkerID())
	if err != nil {
		return err
	}
	if doc == nil {
		doc = docstore.Doc{"consumer": r.Consumer, "topic": r.Topic}
	}
	stamp := eventTime.UTC().Format(watermarkLayout)
	doc["lastSeen"] = maxWatermark(doc["lastSeen"], stamp)
	if applied {
		doc["lastApplied"] = maxWatermark(doc["lastApplied"], stamp)
	}
	doc["updated_at"] = now.UTC().Format(time.RFC3339Nano)
	return tx.Set(CollectionReplayMarks, r.progressMarkerID(), doc)
}

// touchRun maintains the run document's touched-topic set.
func (r ReplayContext) touchRun(tx docstore.Tx, now time.Time) error {
	doc, _, err := tx.Get(CollectionReplayRuns, NormalizeDocID(r.RunID))
	if err != nil {
		return err
	}
	if doc == nil {
		doc = docstore.Doc{"run_id": r.RunID, "consumer": r.Consumer}
	}
	topics, _ := doc["topics"].([]any)
	found := false
	for _, t := range topics {
		if t == r.Topic {
			found = true
			break
		}
	}
	if !found {
		topics = append(topics, r.Topic)
	}
	doc["topics"] = topics
	doc["updated_at"] = now.UTC().Format(time.RFC3339Nano)
	return tx.Set(CollectionReplayRuns, NormalizeDocID(r.RunID), doc)
}

// maxWatermark keeps watermarks monotone; RFC3339Nano strings with a
// fixed layout compare correctly as strings.
func maxWatermark(existing any, incoming string) string {
	prior, _ := existing.(string)
	if prior > incoming {
		return prior
	}
	return incoming
}
