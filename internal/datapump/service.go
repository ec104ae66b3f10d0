package datapump

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/camstore"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

// frameTimeLayout is the pic command's frametime format,
// YYYY-MM-DD_HH.MM.SS.ffffff.
const frameTimeLayout = "2006-01-02_15.04.05.000000"

// deleteTask is one queued purge job.
type deleteTask struct {
	date, eventID string
}

// Service implements the data-access command set over a request/reply
// socket.
type Service struct {
	store *camstore.Store
	log   *logger.Logger

	rep *bus.ReqRepServer

	purgeQueue chan deleteTask
	purgeDone  chan struct{}
}

// NewService constructs a Service backed by store. It does not start
// listening; call Listen.
func NewService(store *camstore.Store, log *logger.Logger) *Service {
	return &Service{
		store:      store,
		log:        log,
		purgeQueue: make(chan deleteTask, 256),
		purgeDone:  make(chan struct{}),
	}
}

// Listen binds the control socket at addr and starts the background purge
// worker. Call Close to stop both.
func (s *Service) Listen(addr string) error {
	rep, err := bus.ListenReqRep(addr, s.handle)
	if err != nil {
		return fmt.Errorf("datapump: listen %s: %w", addr, err)
	}
	s.rep = rep
	go s.purgeWorker()
	return nil
}

// Addr returns the bound local address.
func (s *Service) Addr() string { return s.rep.Addr().String() }

// Close stops accepting requests and the purge worker.
func (s *Service) Close() error {
	err := s.rep.Close()
	close(s.purgeQueue)
	<-s.purgeDone
	return err
}

// purgeWorker is the single-writer goroutine consuming delete tasks in
// order. Failures are logged, never retried.
func (s *Service) purgeWorker() {
	defer close(s.purgeDone)
	for t := range s.purgeQueue {
		if err := s.store.DeleteEvent(t.date, t.eventID); err != nil {
			s.log.Error("datapump: purge failed", "date", t.date, "event", t.eventID, "error", err)
		}
	}
}

func (s *Service) handle(ctx context.Context, raw []byte) []byte {
	req, err := decodeRequest(raw)
	if err != nil {
		s.log.Warn("datapump: malformed request", "error", err)
		return encodeResponse(MsgError, nil)
	}

	switch req.Cmd {
	case CmdHealth:
		return encodeResponse(MsgOK, nil)
	case CmdDates:
		return s.handleDates()
	case CmdIndex:
		return s.handleIndex(req.Date)
	case CmdEvent:
		return s.handleEvent(req.Date, req.Evt, req.Trk)
	case CmdImages:
		return s.handleImages(req.Date, req.Evt)
	case CmdPicture:
		return s.handlePicture(req.Date, req.Evt, req.FrameTime)
	case CmdDelete:
		return s.handleDelete(req.Date, req.Evt)
	default:
		s.log.Warn("datapump: unknown command", "cmd", req.Cmd)
		return encodeResponse(MsgError, nil)
	}
}

func (s *Service) handleDates() []byte {
	dates, err := s.store.GetDateList()
	if err != nil {
		s.log.Error("datapump: dat failed", "error", err)
		return encodeResponse(MsgError, nil)
	}
	t := &wire.Table{Columns: []string{"date"}, Types: []wire.ColumnType{wire.ColumnString}}
	values := make([]interface{}, len(dates))
	for i, d := range dates {
		values[i] = d
	}
	t.Data = [][]interface{}{values}
	return s.encodeTable(t)
}

func (s *Service) handleIndex(date string) []byte {
	rows, err := s.store.GetIndex(date)
	if err != nil {
		s.log.Error("datapump: idx failed", "date", date, "error", err)
		return encodeResponse(MsgError, nil)
	}
	return s.encodeTable(indexTable(rows))
}

func (s *Service) handleEvent(date, evt, trk string) []byte {
	if trk == "" {
		trk = "trk"
	}
	records, err := s.store.GetTrackingSet(date, evt, trk)
	if errors.Is(err, camstore.ErrTrackingSetEmpty) {
		payload, err := wire.EncodeTable(trackingTable(nil, time.Time{}))
		if err != nil {
			return encodeResponse(MsgError, nil)
		}
		return encodeResponse(MsgTrackingSetEmpty, payload)
	}
	if errors.Is(err, camstore.ErrNotFound) {
		return encodeResponse(MsgNotFound, nil)
	}
	if err != nil {
		s.log.Error("datapump: evt failed", "date", date, "event", evt, "error", err)
		return encodeResponse(MsgError, nil)
	}

	start, err := s.store.GetEventStart(date, evt)
	if err != nil {
		s.log.Error("datapump: evt missing start row", "date", date, "event", evt, "error", err)
		return encodeResponse(MsgError, nil)
	}
	return s.encodeTable(trackingTable(records, start.Timestamp))
}

func (s *Service) handleImages(date, evt string) []byte {
	times, err := s.store.GetEventImages(date, evt)
	if errors.Is(err, camstore.ErrImageSetEmpty) {
		payload, err := wire.EncodeTable(imageTable(nil))
		if err != nil {
			return encodeResponse(MsgError, nil)
		}
		return encodeResponse(MsgImageSetEmpty, payload)
	}
	if errors.Is(err, camstore.ErrNotFound) {
		return encodeResponse(MsgNotFound, nil)
	}
	if err != nil {
		s.log.Error("datapump: img failed", "date", date, "event", evt, "error", err)
		return encodeResponse(MsgError, nil)
	}
	return s.encodeTable(imageTable(times))
}

func (s *Service) handlePicture(date, evt, frametime string) []byte {
	ts, err := time.Parse(frameTimeLayout, frametime)
	if err != nil {
		s.log.Warn("datapump: malformed frametime", "frametime", frametime)
		return encodeResponse(MsgError, nil)
	}

	path := s.store.ImageFilePath(date, evt, ts)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return encodeResponse(MsgOK, camstore.SentinelJPEG)
		}
		s.log.Error("datapump: pic failed", "path", path, "error", err)
		return encodeResponse(MsgError, nil)
	}
	return encodeResponse(MsgOK, data)
}

func (s *Service) handleDelete(date, evt string) []byte {
	select {
	case s.purgeQueue <- deleteTask{date: date, eventID: evt}:
	default:
		s.log.Error("datapump: purge queue full, dropping delete", "date", date, "event", evt)
		return encodeResponse(MsgError, nil)
	}
	return encodeResponse(MsgOK, nil)
}

func (s *Service) encodeTable(t *wire.Table) []byte {
	payload, err := wire.EncodeTable(t)
	if err != nil {
		s.log.Error("datapump: table encode failed", "error", err)
		return encodeResponse(MsgError, nil)
	}
	return encodeResponse(MsgOK, payload)
}
