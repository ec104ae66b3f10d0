package datapump

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/camstore"
	"github.com/sentinelcam/sentinelcam/internal/model"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

// ErrTimeout is raised when a request doesn't complete within the client's
// configured deadline. The caller is expected to retry; Client rebuilds
// its connection on the next call.
var ErrTimeout = errors.New("datapump: request timed out")

// Client is a data-access request/reply client with reconnect-on-timeout
// behavior.
type Client struct {
	rr *bus.ReqRepClient
}

// NewClient creates a Client targeting a data-access Service's address.
// timeout bounds every request; on expiry the underlying connection is
// dropped so the next call rebuilds it.
func NewClient(addr string, timeout time.Duration) *Client {
	return &Client{rr: bus.NewReqRepClient(addr, timeout)}
}

// Close releases the client's connection.
func (c *Client) Close() error { return c.rr.Close() }

func (c *Client) roundTrip(ctx context.Context, req Request) (MsgCode, []byte, error) {
	payload, err := encodeRequest(req)
	if err != nil {
		return "", nil, fmt.Errorf("datapump: encode request: %w", err)
	}
	raw, err := c.rr.Request(ctx, payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return decodeResponse(raw)
}

// HealthCheck issues an HC request.
func (c *Client) HealthCheck(ctx context.Context) error {
	msg, _, err := c.roundTrip(ctx, Request{Cmd: CmdHealth})
	if err != nil {
		return err
	}
	if msg != MsgOK {
		return fmt.Errorf("datapump: health check: %s", msg)
	}
	return nil
}

// Dates returns every available YYYY-MM-DD folder, newest first.
func (c *Client) Dates(ctx context.Context) ([]string, error) {
	msg, payload, err := c.roundTrip(ctx, Request{Cmd: CmdDates})
	if err != nil {
		return nil, err
	}
	if msg != MsgOK {
		return nil, fmt.Errorf("datapump: dat: %s", msg)
	}
	t, err := wire.DecodeTable(payload)
	if err != nil {
		return nil, err
	}
	out := make([]string, t.NumRows())
	for i, v := range t.Data[0] {
		out[i] = v.(string)
	}
	return out, nil
}

// Index returns a date's full index.
func (c *Client) Index(ctx context.Context, date string) ([]model.DateIndexRow, error) {
	msg, payload, err := c.roundTrip(ctx, Request{Cmd: CmdIndex, Date: date})
	if err != nil {
		return nil, err
	}
	if msg != MsgOK {
		return nil, fmt.Errorf("datapump: idx: %s", msg)
	}
	t, err := wire.DecodeTable(payload)
	if err != nil {
		return nil, err
	}
	rows := make([]model.DateIndexRow, t.NumRows())
	for i := range rows {
		rows[i] = model.DateIndexRow{
			Node:      t.Data[0][i].(string),
			ViewName:  t.Data[1][i].(string),
			Timestamp: t.Data[2][i].(time.Time),
			EventID:   t.Data[3][i].(string),
			Width:     int(t.Data[4][i].(int64)),
			Height:    int(t.Data[5][i].(int64)),
			Type:      t.Data[6][i].(string),
		}
	}
	return rows, nil
}

// TrackingSet returns the (event, type) tracking records, sorted by
// timestamp. A zero-length, non-nil result distinguishes an empty tracking
// set from ErrNotFound.
func (c *Client) TrackingSet(ctx context.Context, date, evt, trk string) ([]model.TrackingRecord, error) {
	msg, payload, err := c.roundTrip(ctx, Request{Cmd: CmdEvent, Date: date, Evt: evt, Trk: trk})
	if err != nil {
		return nil, err
	}
	switch msg {
	case MsgNotFound:
		return nil, camstore.ErrNotFound
	case MsgTrackingSetEmpty:
		return []model.TrackingRecord{}, nil
	case MsgOK:
	default:
		return nil, fmt.Errorf("datapump: evt: %s", msg)
	}
	t, err := wire.DecodeTable(payload)
	if err != nil {
		return nil, err
	}
	records := make([]model.TrackingRecord, t.NumRows())
	for i := range records {
		records[i] = model.TrackingRecord{
			Timestamp: t.Data[0][i].(time.Time),
			ObjectID:  t.Data[1][i].(string),
			ClassName: t.Data[2][i].(string),
			Rect: model.Rect{
				X1: int(t.Data[3][i].(int64)), Y1: int(t.Data[4][i].(int64)),
				X2: int(t.Data[5][i].(int64)), Y2: int(t.Data[6][i].(int64)),
			},
		}
	}
	return records, nil
}

// ImageList returns an event's frame timestamps, chronological. A
// zero-length, non-nil result distinguishes an empty image set from
// ErrNotFound.
func (c *Client) ImageList(ctx context.Context, date, evt string) ([]time.Time, error) {
	msg, payload, err := c.roundTrip(ctx, Request{Cmd: CmdImages, Date: date, Evt: evt})
	if err != nil {
		return nil, err
	}
	switch msg {
	case MsgNotFound:
		return nil, camstore.ErrNotFound
	case MsgImageSetEmpty:
		return []time.Time{}, nil
	case MsgOK:
	default:
		return nil, fmt.Errorf("datapump: img: %s", msg)
	}
	t, err := wire.DecodeTable(payload)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, t.NumRows())
	for i, v := range t.Data[0] {
		out[i] = v.(time.Time)
	}
	return out, nil
}

// Picture fetches one JPEG frame's raw bytes. A missing frame yields the
// 1x1 sentinel JPEG with no error.
func (c *Client) Picture(ctx context.Context, date, evt string, frameTime time.Time) ([]byte, error) {
	msg, payload, err := c.roundTrip(ctx, Request{
		Cmd: CmdPicture, Date: date, Evt: evt, FrameTime: frameTime.Format(frameTimeLayout),
	})
	if err != nil {
		return nil, err
	}
	if msg != MsgOK {
		return nil, fmt.Errorf("datapump: pic: %s", msg)
	}
	return payload, nil
}

// Delete enqueues an asynchronous purge of an event's index row, tracking
// files, and JPEGs.
func (c *Client) Delete(ctx context.Context, date, evt string) error {
	msg, _, err := c.roundTrip(ctx, Request{Cmd: CmdDelete, Date: date, Evt: evt})
	if err != nil {
		return err
	}
	if msg != MsgOK {
		return fmt.Errorf("datapump: del: %s", msg)
	}
	return nil
}
