// Package fetcher implements a resilient wrapper over a chain's getLogs
// RPC that recognises provider-specific range/size errors and
// transparently splits and retries.
package fetcher

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Query describes a single eth_getLogs call.
type Query struct {
	Addresses []common.Address
	Topics    [][]common.Hash
	From      int64
	To        int64
}

// RawLogFetcher issues exactly one eth_getLogs RPC and returns its raw
// result or error, unmodified.
type RawLogFetcher interface {
	GetLogs(ctx context.Context, q Query) ([]types.Log, error)
}

// Fetcher wraps a RawLogFetcher with range-oversize classification and
// recursive splitting.
type Fetcher struct {
	raw     RawLogFetcher
	logger  zerolog.Logger
	network string
	reqDur  *prometheus.HistogramVec
}

// New creates a Fetcher. reqDur may be nil to skip duration metrics (used
// in tests).
func New(raw RawLogFetcher, logger zerolog.Logger, network string, reqDur *prometheus.HistogramVec) *Fetcher {
	return &Fetcher{
		raw:     raw,
		logger:  logger.With().Str("component", "fetcher").Logger(),
		network: network,
		reqDur:  reqDur,
	}
}

// GetLogs fetches logs in [q.From, q.To], transparently splitting and
// retrying on recognised provider-specific oversize errors. Any other
// error is fatal and propagated.
func (f *Fetcher) GetLogs(ctx context.Context, q Query) ([]types.Log, error) {
	start := time.Now()
	logs, err := f.raw.GetLogs(ctx, q)
	if f.reqDur != nil {
		f.reqDur.WithLabelValues("eth_getLogs", f.network).Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return logs, nil
	}

	split, ok := classify(err.Error(), q.From, q.To)
	if !ok {
		return nil, err
	}

	f.logger.Warn().
		Err(err).
		Int64("from", q.From).
		Int64("to", q.To).
		Int64("split_a_from", split.a.From).
		Int64("split_a_to", split.a.To).
		Int64("split_b_from", split.b.From).
		Int64("split_b_to", split.b.To).
		Msg("getLogs range rejected by provider, splitting")

	qa, qb := q, q
	qa.From, qa.To = split.a.From, split.a.To
	qb.From, qb.To = split.b.From, split.b.To

	logsA, err := f.GetLogs(ctx, qa)
	if err != nil {
		return nil, err
	}
	logsB, err := f.GetLogs(ctx, qb)
	if err != nil {
		return nil, err
	}

	return append(logsA, logsB...), nil
}

type subRange struct{ From, To int64 }

type splitResult struct {
	a, b subRange
}

var (
	responseSizePattern   = regexp.MustCompile(`(?i)response size exceeded`)
	tenKResultsPattern    = regexp.MustCompile(`(?i)more than 10000 results`)
	rangeLess20kPattern   = regexp.MustCompile(`(?i)block range less than 20000`)
	rangeLimited10kPattern = regexp.MustCompile(`(?i)limited to a 10,000 blocks range`)

	// suggestedRangePattern loosely extracts two integers from a
	// provider hint like "this block range should work: [0, 400]" or
	// 'try with this block range ["0","400"]', tolerating surrounding
	// whitespace and quoting.
	suggestedRangePattern = regexp.MustCompile(`\[\s*"?'?\s*(\d+)\s*"?'?\s*,\s*"?'?\s*(\d+)\s*"?'?\s*\]`)
)

// classify inspects a getLogs error message and, for the four recognised
// provider-specific patterns, returns the pair of retry sub-ranges
// covering [from, to].
func classify(msg string, from, to int64) (splitResult, bool) {
	switch {
	case responseSizePattern.MatchString(msg), tenKResultsPattern.MatchString(msg):
		return suggestedOrMidpoint(msg, from, to), true
	case rangeLess20kPattern.MatchString(msg), rangeLimited10kPattern.MatchString(msg):
		return midpointSplit(from, to), true
	default:
		return splitResult{}, false
	}
}

// suggestedOrMidpoint extracts a provider-suggested [a,b] sub-range from
// msg; on any parse failure it falls back to a midpoint split.
func suggestedOrMidpoint(msg string, from, to int64) splitResult {
	m := suggestedRangePattern.FindStringSubmatch(msg)
	if m == nil {
		return midpointSplit(from, to)
	}

	a, errA := strconv.ParseInt(strings.TrimSpace(m[1]), 10, 64)
	b, errB := strconv.ParseInt(strings.TrimSpace(m[2]), 10, 64)
	if errA != nil || errB != nil || a < from || b < a || b >= to {
		return midpointSplit(from, to)
	}

	return splitResult{
		a: subRange{From: a, To: b},
		b: subRange{From: b + 1, To: to},
	}
}

func midpointSplit(from, to int64) splitResult {
	mid := from + (to-from)/2
	return splitResult{
		a: subRange{From: from, To: mid},
		b: subRange{From: mid + 1, To: to},
	}
}
