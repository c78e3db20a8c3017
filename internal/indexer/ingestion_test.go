package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/fhecredit/backend/internal/chain"
)

const testContract = "0x2222222222222222222222222222222222222222"

type fakeIngestionRepo struct {
	cursor    uint64
	hasCursor bool
	events    []IngestedEvent
}

func (f *fakeIngestionRepo) GetIngestionCursor(context.Context, string) (uint64, bool, error) {
	return f.cursor, f.hasCursor, nil
}

func (f *fakeIngestionRepo) SetIngestionCursor(_ context.Context, _ string, blockNumber uint64) error {
	f.cursor = blockNumber
	f.hasCursor = true
	return nil
}

func (f *fakeIngestionRepo) InsertChainEvent(_ context.Context, ev IngestedEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeLogRPC struct {
	head    uint64
	logs    []chain.LogEntry
	filters []chain.LogFilter
}

func (f *fakeLogRPC) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeLogRPC) GetLogs(_ context.Context, filter chain.LogFilter) ([]chain.LogEntry, error) {
	f.filters = append(f.filters, filter)
	var out []chain.LogEntry
	for _, lg := range f.logs {
		if lg.BlockNumber >= filter.FromBlock && lg.BlockNumber <= filter.ToBlock {
			out = append(out, lg)
		}
	}
	return out, nil
}

func identityTopic(addr string) string {
	clean := strings.TrimPrefix(strings.ToLower(addr), "0x")
	return "0x" + strings.Repeat("0", 64-len(clean)) + clean
}

func timestampData(ts int64) string {
	return fmt.Sprintf("0x%064x", ts)
}

func registryLog(topic0 string, block, logIndex uint64) chain.LogEntry {
	return chain.LogEntry{
		Address:         testContract,
		Topics:          []string{topic0, identityTopic("0xAAAA567890123456789012345678901234567890")},
		Data:            timestampData(1700000000),
		BlockNumber:     block,
		TransactionHash: fmt.Sprintf("0xTX%06d", block),
		LogIndex:        logIndex,
	}
}

func TestIngestionStaysBehindConfirmationDepth(t *testing.T) {
	repo := &fakeIngestionRepo{}
	rpc := &fakeLogRPC{head: 110, logs: []chain.LogEntry{registryLog(topicDataSubmitted, 100, 0)}}
	svc := NewIngestionService(repo, rpc, testContract, 90, 500, 12)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(rpc.filters) != 1 {
		t.Fatalf("expected one log query, got %d", len(rpc.filters))
	}
	if got := rpc.filters[0].ToBlock; got != 98 {
		t.Fatalf("expected scan ceiling head-confirmations, got %d", got)
	}
	if len(repo.events) != 0 {
		t.Fatalf("expected no events above safe head, got %v", repo.events)
	}
	if repo.cursor != 98 {
		t.Fatalf("expected cursor at 98, got %d", repo.cursor)
	}
}

func TestIngestionDecodesRegistryEvents(t *testing.T) {
	repo := &fakeIngestionRepo{}
	rpc := &fakeLogRPC{head: 200, logs: []chain.LogEntry{
		registryLog(topicDataSubmitted, 100, 0),
		registryLog(topicEvaluated, 101, 1),
		registryLog(topicApprovalRequested, 102, 0),
		{Address: testContract, Topics: []string{"0x" + strings.Repeat("ff", 32)}, BlockNumber: 103},
	}}
	svc := NewIngestionService(repo, rpc, testContract, 100, 500, 12)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(repo.events) != 3 {
		t.Fatalf("expected 3 decoded events, got %d", len(repo.events))
	}

	wantNames := []string{"DataSubmitted", "Evaluated", "ApprovalRequested"}
	for i, name := range wantNames {
		ev := repo.events[i]
		if ev.EventName != name {
			t.Fatalf("event %d: expected %s, got %s", i, name, ev.EventName)
		}
		if ev.TXHash != strings.ToLower(fmt.Sprintf("0xTX%06d", 100+i)) {
			t.Fatalf("event %d: expected lowercased tx hash, got %s", i, ev.TXHash)
		}

		var payload struct {
			Identity   string `json:"identity"`
			OccurredAt int64  `json:"occurred_at"`
		}
		if err := json.Unmarshal(ev.RawData, &payload); err != nil {
			t.Fatalf("event %d: decode raw data: %v", i, err)
		}
		if payload.Identity != "0xaaaa567890123456789012345678901234567890" {
			t.Fatalf("event %d: unexpected identity %s", i, payload.Identity)
		}
		if payload.OccurredAt != 1700000000 {
			t.Fatalf("event %d: unexpected timestamp %d", i, payload.OccurredAt)
		}
	}
}

func TestIngestionResumesFromCursor(t *testing.T) {
	repo := &fakeIngestionRepo{cursor: 149, hasCursor: true}
	rpc := &fakeLogRPC{head: 300}
	svc := NewIngestionService(repo, rpc, testContract, 0, 50, 10)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	filter := rpc.filters[0]
	if filter.FromBlock != 150 {
		t.Fatalf("expected resume at cursor+1, got %d", filter.FromBlock)
	}
	if filter.ToBlock != 199 {
		t.Fatalf("expected batch-bounded ceiling 199, got %d", filter.ToBlock)
	}
}

func TestIngestionNoopWhenCaughtUp(t *testing.T) {
	repo := &fakeIngestionRepo{cursor: 290, hasCursor: true}
	rpc := &fakeLogRPC{head: 300}
	svc := NewIngestionService(repo, rpc, testContract, 0, 500, 12)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(rpc.filters) != 0 {
		t.Fatalf("expected no log query past safe head, got %v", rpc.filters)
	}
	if repo.cursor != 290 {
		t.Fatalf("cursor must not move, got %d", repo.cursor)
	}
}

func TestIngestionSkipsRemovedLogs(t *testing.T) {
	removed := registryLog(topicDataSubmitted, 100, 0)
	removed.Removed = true

	repo := &fakeIngestionRepo{}
	rpc := &fakeLogRPC{head: 200, logs: []chain.LogEntry{removed}}
	svc := NewIngestionService(repo, rpc, testContract, 100, 500, 12)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(repo.events) != 0 {
		t.Fatalf("expected reorged log skipped, got %v", repo.events)
	}
}

func TestEventTopics(t *testing.T) {
	// keccak256("DataSubmitted(address,uint256)") is a fixed constant.
	if got := eventTopic("Transfer(address,address,uint256)"); got != "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef" {
		t.Fatalf("unexpected topic hash %s", got)
	}
	if topicDataSubmitted == topicEvaluated || topicEvaluated == topicApprovalRequested {
		t.Fatal("event topics must be distinct")
	}
	for _, topic := range []string{topicDataSubmitted, topicEvaluated, topicApprovalRequested} {
		if len(topic) != 66 || !strings.HasPrefix(topic, "0x") {
			t.Fatalf("malformed topic %s", topic)
		}
	}
}
