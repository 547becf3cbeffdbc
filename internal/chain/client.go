// Package chain translates wallet-level questions into Electrum calls and
// decodes raw protocol payloads into structured records.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"github.com/lunanimous/keyguard/internal/electrum"
	"github.com/lunanimous/keyguard/internal/log"
	"github.com/lunanimous/keyguard/pkg/types"
)

// ErrBroadcastMismatch is returned when the node acknowledges a broadcast
// with an identifier different from the locally computed transaction id.
// Some protocol versions report failures as a bare string result; the
// mismatch check catches those too.
var ErrBroadcastMismatch = errors.New("broadcast id mismatch")

// Transport is the subset of the Electrum connection the client needs.
type Transport interface {
	Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
	Subscribe(ctx context.Context, method string, handler electrum.Handler, params ...interface{}) (json.RawMessage, error)
	Unsubscribe(ctx context.Context, method string, params ...interface{}) error
}

// HistoryItem is one raw entry of an address history. Height is zero or
// negative for unconfirmed transactions; Fee is only present for entries
// still in the mempool.
type HistoryItem struct {
	TxID   string `json:"tx_hash"`
	Height int64  `json:"height"`
	Fee    int64  `json:"fee,omitempty"`
}

// Client is the chain query facade.
type Client struct {
	tp     Transport
	params *chaincfg.Params
	log    zerolog.Logger
}

// NewClient creates a facade over the given transport for the given network.
func NewClient(tp Transport, params *chaincfg.Params) *Client {
	return &Client{tp: tp, params: params, log: log.Chain}
}

// ServerVersion performs the protocol handshake. Electrum servers require it
// before any other call on a fresh connection.
func (c *Client) ServerVersion(ctx context.Context, clientName, protocolVersion string) (software, protocol string, err error) {
	res, err := c.tp.Call(ctx, "server.version", clientName, protocolVersion)
	if err != nil {
		return "", "", err
	}
	var pair []string
	if err := json.Unmarshal(res, &pair); err != nil || len(pair) != 2 {
		return "", "", fmt.Errorf("unexpected server.version reply: %s", res)
	}
	return pair[0], pair[1], nil
}

// GetBalance returns the confirmed and unconfirmed balance of a script.
func (c *Client) GetBalance(ctx context.Context, script []byte) (types.Balance, error) {
	res, err := c.tp.Call(ctx, "blockchain.scripthash.get_balance", electrum.ScriptHash(script))
	if err != nil {
		return types.Balance{}, err
	}
	var bal types.Balance
	if err := json.Unmarshal(res, &bal); err != nil {
		return types.Balance{}, fmt.Errorf("decode balance: %w", err)
	}
	return bal, nil
}

// History returns the raw history entries of a script, as reported by the
// server. Discovery uses the entry count as the activity signal without
// paying for full transaction fetches.
func (c *Client) History(ctx context.Context, script []byte) ([]HistoryItem, error) {
	res, err := c.tp.Call(ctx, "blockchain.scripthash.get_history", electrum.ScriptHash(script))
	if err != nil {
		return nil, err
	}
	var items []HistoryItem
	if err := json.Unmarshal(res, &items); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return items, nil
}

// GetHistory returns full transaction records for a script, newest first:
// unconfirmed entries sort before all confirmed ones, confirmed entries by
// descending height.
//
// Header prefetching is best-effort: the first header failure disables
// further header fetches for the remainder of the batch. A transaction fetch
// failure instead aborts the whole fetch early, returning only the records
// gathered so far.
func (c *Client) GetHistory(ctx context.Context, script []byte) ([]*types.TransactionRecord, error) {
	items, err := c.History(ctx, script)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		return sortHeight(items[i].Height) > sortHeight(items[j].Height)
	})

	headers := make(map[int64]*types.BlockHeader)
	headersOK := true
	var recs []*types.TransactionRecord

	for _, it := range items {
		var hdr *types.BlockHeader
		if it.Height > 0 && headersOK {
			cached, ok := headers[it.Height]
			if ok {
				hdr = cached
			} else {
				h, err := c.GetBlockHeader(ctx, it.Height)
				if err != nil {
					c.log.Error().Err(err).Int64("height", it.Height).
						Msg("header prefetch failed, skipping headers for the rest of the batch")
					headersOK = false
				} else {
					headers[it.Height] = h
					hdr = h
				}
			}
		}

		rec, err := c.fetchTransaction(ctx, it.TxID)
		if err != nil {
			c.log.Error().Err(err).Str("txid", it.TxID).
				Msg("transaction fetch failed, aborting history fetch")
			return recs, nil
		}
		if it.Height > 0 {
			rec.Height = it.Height
		}
		if hdr != nil {
			rec.BlockTime = hdr.Time
			bh := hdr.Hash
			rec.BlockHash = &bh
		}
		if it.Fee > 0 {
			rec.Fee = it.Fee
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// sortHeight maps unconfirmed heights (zero or negative) to +infinity so
// they order before every confirmed height.
func sortHeight(h int64) int64 {
	if h <= 0 {
		return math.MaxInt64
	}
	return h
}

// GetBlockHeader fetches and parses the header at the given height.
func (c *Client) GetBlockHeader(ctx context.Context, height int64) (*types.BlockHeader, error) {
	res, err := c.tp.Call(ctx, "blockchain.block.header", height)
	if err != nil {
		return nil, err
	}
	var headerHex string
	if err := json.Unmarshal(res, &headerHex); err != nil {
		return nil, fmt.Errorf("decode header reply: %w", err)
	}
	raw, err := hex.DecodeString(headerHex)
	if err != nil {
		return nil, fmt.Errorf("decode header hex: %w", err)
	}
	var hdr wire.BlockHeader
	if err := hdr.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize header: %w", err)
	}
	return &types.BlockHeader{
		Hash:       hdr.BlockHash(),
		Height:     height,
		Version:    hdr.Version,
		PrevBlock:  hdr.PrevBlock,
		MerkleRoot: hdr.MerkleRoot,
		Time:       hdr.Timestamp.Unix(),
		Bits:       hdr.Bits,
		Nonce:      hdr.Nonce,
		Size:       len(raw),
	}, nil
}

// GetTransaction fetches and decodes a transaction by id. A positive height
// attaches header metadata best-effort; a header failure is logged, never
// propagated.
func (c *Client) GetTransaction(ctx context.Context, txid string, height int64) (*types.TransactionRecord, error) {
	rec, err := c.fetchTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	if height > 0 {
		rec.Height = height
		hdr, err := c.GetBlockHeader(ctx, height)
		if err != nil {
			c.log.Error().Err(err).Int64("height", height).Msg("header fetch failed")
		} else {
			rec.BlockTime = hdr.Time
			bh := hdr.Hash
			rec.BlockHash = &bh
		}
	}
	return rec, nil
}

// fetchTransaction retrieves the raw transaction and decodes it.
func (c *Client) fetchTransaction(ctx context.Context, txid string) (*types.TransactionRecord, error) {
	res, err := c.tp.Call(ctx, "blockchain.transaction.get", txid)
	if err != nil {
		return nil, err
	}
	var rawHex string
	if err := json.Unmarshal(res, &rawHex); err != nil {
		return nil, fmt.Errorf("decode transaction reply: %w", err)
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("decode transaction hex: %w", err)
	}
	return DecodeTransaction(raw, c.params)
}

// SubscribeStatus subscribes to status changes of a script. Every push, and
// the initial subscription result, triggers a full history refetch delivered
// to the callback; the push payload itself is treated as a hint only.
func (c *Client) SubscribeStatus(ctx context.Context, script []byte, cb func([]*types.TransactionRecord)) error {
	handler := func(_ []json.RawMessage) {
		// Refetching on the dispatch goroutine would block the transport's
		// read loop on its own responses, so the fetch runs detached. Each
		// push is current state; out-of-order completions are harmless.
		go func() {
			recs, err := c.GetHistory(ctx, script)
			if err != nil {
				c.log.Error().Err(err).Msg("history refetch after status push failed")
				return
			}
			cb(recs)
		}()
	}
	_, err := c.tp.Subscribe(ctx, "blockchain.scripthash", handler, electrum.ScriptHash(script))
	return err
}

// SubscribeHeaders subscribes to new-tip notifications. For each announced
// height the full header is fetched and delivered to the callback.
func (c *Client) SubscribeHeaders(ctx context.Context, cb func(*types.BlockHeader)) error {
	handler := func(params []json.RawMessage) {
		if len(params) == 0 {
			return
		}
		var notif struct {
			Height int64  `json:"height"`
			Hex    string `json:"hex"`
		}
		if err := json.Unmarshal(params[0], &notif); err != nil {
			c.log.Error().Err(err).Msg("malformed header notification")
			return
		}
		go func() {
			hdr, err := c.GetBlockHeader(ctx, notif.Height)
			if err != nil {
				c.log.Error().Err(err).Int64("height", notif.Height).Msg("tip header fetch failed")
				return
			}
			cb(hdr)
		}()
	}
	_, err := c.tp.Subscribe(ctx, "blockchain.headers", handler)
	return err
}

// Broadcast decodes the raw transaction locally, submits it, and verifies
// the node echoed the locally computed id.
func (c *Client) Broadcast(ctx context.Context, rawHex string) (*types.TransactionRecord, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("decode raw transaction: %w", err)
	}
	rec, err := DecodeTransaction(raw, c.params)
	if err != nil {
		return nil, err
	}
	localID := rec.TxID.String()

	res, err := c.tp.Call(ctx, "blockchain.transaction.broadcast", rawHex)
	if err != nil {
		return nil, err
	}
	var returned string
	if err := json.Unmarshal(res, &returned); err != nil {
		return nil, fmt.Errorf("%w: unexpected broadcast reply %s", ErrBroadcastMismatch, res)
	}
	if returned != localID {
		return nil, fmt.Errorf("%w: node returned %q, expected %s", ErrBroadcastMismatch, returned, localID)
	}

	c.log.Info().Str("txid", localID).Msg("transaction broadcast")
	return rec, nil
}
