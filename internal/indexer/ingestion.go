package indexer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/fhecredit/backend/internal/chain"
	"golang.org/x/crypto/sha3"
)

const ingestionCursorKey = "indexer.credit_registry.last_block"

type IngestedEvent struct {
	ContractAddr string
	EventName    string
	TXHash       string
	BlockNumber  uint64
	LogIndex     uint64
	RawData      json.RawMessage
}

type IngestionRepository interface {
	GetIngestionCursor(ctx context.Context, key string) (uint64, bool, error)
	SetIngestionCursor(ctx context.Context, key string, blockNumber uint64) error
	InsertChainEvent(ctx context.Context, ev IngestedEvent) error
}

type LogRPCClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, filter chain.LogFilter) ([]chain.LogEntry, error)
}

// IngestionService pulls registry logs from the anchor chain behind a
// confirmation depth and stores them for projection.
type IngestionService struct {
	repo          IngestionRepository
	rpc           LogRPCClient
	contractAddr  string
	startBlock    uint64
	blockBatch    uint64
	confirmations uint64
}

func NewIngestionService(repo IngestionRepository, rpc LogRPCClient, contractAddr string, startBlock, blockBatch, confirmations uint64) *IngestionService {
	if blockBatch == 0 {
		blockBatch = 500
	}
	return &IngestionService{
		repo:          repo,
		rpc:           rpc,
		contractAddr:  strings.TrimSpace(contractAddr),
		startBlock:    startBlock,
		blockBatch:    blockBatch,
		confirmations: confirmations,
	}
}

func (s *IngestionService) RunOnce(ctx context.Context) error {
	latest, err := s.rpc.BlockNumber(ctx)
	if err != nil {
		return err
	}

	if latest < s.confirmations {
		return nil
	}
	safeHead := latest - s.confirmations

	last, ok, err := s.repo.GetIngestionCursor(ctx, ingestionCursorKey)
	if err != nil {
		return err
	}
	var fromBlock uint64
	if ok {
		fromBlock = last + 1
	} else {
		fromBlock = s.startBlock
	}
	if fromBlock > safeHead {
		return nil
	}

	toBlock := minUint64(safeHead, fromBlock+s.blockBatch-1)
	logs, err := s.rpc.GetLogs(ctx, chain.LogFilter{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Address:   s.contractAddr,
		Topics:    []string{topicDataSubmitted, topicEvaluated, topicApprovalRequested},
	})
	if err != nil {
		return err
	}

	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, ok, err := decodeLogToEvent(lg)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := s.repo.InsertChainEvent(ctx, ev); err != nil {
			return err
		}
	}

	return s.repo.SetIngestionCursor(ctx, ingestionCursorKey, toBlock)
}

var (
	topicDataSubmitted     = eventTopic("DataSubmitted(address,uint256)")
	topicEvaluated         = eventTopic("Evaluated(address,uint256)")
	topicApprovalRequested = eventTopic("ApprovalRequested(address,uint256)")
)

func decodeLogToEvent(log chain.LogEntry) (IngestedEvent, bool, error) {
	if len(log.Topics) == 0 {
		return IngestedEvent{}, false, nil
	}

	var name string
	switch strings.ToLower(log.Topics[0]) {
	case strings.ToLower(topicDataSubmitted):
		name = "DataSubmitted"
	case strings.ToLower(topicEvaluated):
		name = "Evaluated"
	case strings.ToLower(topicApprovalRequested):
		name = "ApprovalRequested"
	default:
		return IngestedEvent{}, false, nil
	}

	if len(log.Topics) < 2 {
		return IngestedEvent{}, false, fmt.Errorf("%s missing identity topic", name)
	}
	identity := topicToAddress(log.Topics[1])
	occurredAt := parseTimestampData(log.Data)

	rawJSON, err := json.Marshal(map[string]any{
		"identity":    identity,
		"occurred_at": occurredAt,
	})
	if err != nil {
		return IngestedEvent{}, false, err
	}
	return IngestedEvent{
		ContractAddr: strings.ToLower(log.Address),
		EventName:    name,
		TXHash:       strings.ToLower(log.TransactionHash),
		BlockNumber:  log.BlockNumber,
		LogIndex:     log.LogIndex,
		RawData:      rawJSON,
	}, true, nil
}

func parseTimestampData(dataHex string) int64 {
	words := abiWords(dataHex)
	if len(words) < 1 {
		return 0
	}
	return toInt64(words[0])
}

func abiWords(dataHex string) []string {
	clean := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(dataHex)), "0x")
	if len(clean)%64 != 0 {
		return nil
	}
	words := make([]string, 0, len(clean)/64)
	for i := 0; i+64 <= len(clean); i += 64 {
		words = append(words, clean[i:i+64])
	}
	return words
}

func toInt64(word string) int64 {
	n, ok := new(big.Int).SetString(word, 16)
	if !ok || !n.IsInt64() {
		return 0
	}
	return n.Int64()
}

// topicToAddress extracts the low 20 bytes of an indexed address topic.
func topicToAddress(topic string) string {
	clean := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(topic)), "0x")
	if len(clean) < 40 {
		clean = strings.Repeat("0", 40-len(clean)) + clean
	}
	return "0x" + clean[len(clean)-40:]
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func eventTopic(signature string) string {
	hash := sha3.NewLegacyKeccak256()
	_, _ = hash.Write([]byte(signature))
	return "0x" + hex.EncodeToString(hash.Sum(nil))
}
