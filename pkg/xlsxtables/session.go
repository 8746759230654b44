package xlsxtables

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ukaji3/xlsxtables-go/internal/logging"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/archive"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/crypt"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/parser"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/schema"
	"github.com/ukaji3/xlsxtables-go/pkg/xlsxtables/table"
)

// Progress weights of the session phases.
const (
	loadWeight    = 0.3
	openWeight    = 0.2
	extractBase   = loadWeight + openWeight
	extractWeight = 1 - extractBase
	maxPending    = 0.99
)

// Result is the outcome of a finished session.
type Result struct {
	// SessionID identifies the session in log records.
	SessionID string
	DataSet   *DataSet
	Report    *Report
	// Failures lists the failed requests by index.
	Failures []*RequestError
	Elapsed  time.Duration
}

// Session is a running extraction. Requests are loaded and decrypted
// concurrently, then extracted one after another in request order.
type Session struct {
	id     string
	reqs   []*Request
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
	done   chan struct{}

	progress meter
	stages   []stage

	mu      sync.Mutex
	sources []*Source
	readers []*parser.Reader

	result    *Result
	err       error
	closeOnce sync.Once
	closeErr  error
}

// Start validates reqs and begins extracting them in the background.
func Start(ctx context.Context, opts Options, reqs ...*Request) (*Session, error) {
	if err := validateRequests(reqs); err != nil {
		return nil, err
	}
	if opts.Logger != nil {
		ctx = logging.WithLogger(ctx, opts.Logger)
	}
	id := uuid.NewString()
	ctx, logger := logging.WithSession(ctx, id)
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:     id,
		reqs:   slices.Clone(reqs),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		log:    logger,
		done:   make(chan struct{}),
		stages: make([]stage, len(reqs)),
	}
	s.progress.notify = opts.Progress
	go s.run()
	return s, nil
}

// Extract runs a session to completion.
func Extract(ctx context.Context, opts Options, reqs ...*Request) (*Result, error) {
	s, err := Start(ctx, opts, reqs...)
	if err != nil {
		return nil, err
	}
	res, err := s.Wait()
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return res, err
}

func validateRequests(reqs []*Request) error {
	var errs []error
	for n, r := range reqs {
		if r == nil || r.locator == "" {
			errs = append(errs, fmt.Errorf("requests[%d]: locator must not be empty", n))
			continue
		}
		for _, is := range r.schemas {
			if is.Sheet < 0 {
				errs = append(errs, fmt.Errorf("requests[%d]: sheet index %d is negative", n, is.Sheet))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, errors.Join(errs...))
	}
	return nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Progress returns the completion estimate in [0,1]. It never decreases and
// reaches 1 only once the result is available.
func (s *Session) Progress() float64 { return s.progress.value() }

// Done is closed when the session has finished or was cancelled.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends. The error is non-nil only when the
// session was cancelled; request, layout and cell problems are in the
// result's Report.
func (s *Session) Wait() (*Result, error) {
	<-s.done
	return s.result, s.err
}

// Close cancels a running session, waits for it to stop and releases every
// stream it owns.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return s.closeErr
}

func (s *Session) run() {
	defer close(s.done)
	defer s.release()
	defer s.cancel()

	start := time.Now()
	s.log.Debug("session started", "requests", len(s.reqs))

	readers, failures := s.loadAll()
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return
	}
	s.progress.raise(extractBase)

	ds := newDataSet()
	for n, rd := range readers {
		if rd == nil {
			continue
		}
		err := s.extract(n, rd, ds)
		var re *RequestError
		switch {
		case errors.As(err, &re):
			s.log.Warn("request failed", "request", n, "locator", re.Locator, "error", re.Err)
			failures = append(failures, re)
		case err != nil:
			s.err = err
			return
		}
	}
	slices.SortStableFunc(failures, func(a, b *RequestError) int {
		return cmp.Compare(a.Index, b.Index)
	})

	s.result = &Result{
		SessionID: s.id,
		DataSet:   ds,
		Report:    buildReport(failures, ds),
		Failures:  failures,
		Elapsed:   time.Since(start),
	}
	s.progress.set(1)
	s.log.Debug("session finished", "tables", ds.Len(), "report", s.result.Report.Len(), "elapsed", s.result.Elapsed)
}

func (s *Session) own(src *Source, rd *parser.Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src != nil {
		s.sources = append(s.sources, src)
	}
	if rd != nil {
		s.readers = append(s.readers, rd)
	}
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, rd := range s.readers {
		errs = append(errs, rd.Close())
	}
	for _, src := range s.sources {
		errs = append(errs, src.Close())
	}
	s.readers, s.sources = nil, nil
	s.closeErr = errors.Join(errs...)
}

// loadAll loads and opens every request. Failed requests get a nil reader.
func (s *Session) loadAll() ([]*parser.Reader, []*RequestError) {
	readers := make([]*parser.Reader, len(s.reqs))
	failed := make([]*RequestError, len(s.reqs))

	var g errgroup.Group
	g.SetLimit(s.opts.EffectiveLoadLimit())
	for n := range s.reqs {
		g.Go(func() error {
			readers[n], failed[n] = s.open(n)
			return nil
		})
	}
	_ = g.Wait()

	var failures []*RequestError
	for _, f := range failed {
		if f != nil {
			failures = append(failures, f)
		}
	}
	return readers, failures
}

// open loads request n and positions a document reader on its first sheet,
// decrypting the stream first when it is a password-protected container.
func (s *Session) open(n int) (*parser.Reader, *RequestError) {
	req := s.reqs[n]
	st := &s.stages[n]
	log := s.log.With("request", n, "locator", req.Locator())
	defer s.publishOpen(st, 1)

	fail := func(kind, err error) *RequestError {
		re := newRequestError(n, req, kind, err)
		if s.ctx.Err() == nil {
			log.Warn("request failed", "error", re.Message())
		}
		return re
	}

	src, err := s.load(req, st)
	s.publishLoad(st, 1)
	if err != nil {
		return nil, fail(ErrLoad, err)
	}
	s.own(src, nil)
	log.Debug("request loaded", "size", src.Size)

	ar, err := archive.Open(src, src.Size)
	if err != nil {
		switch {
		case !crypt.IsCompoundFile(src):
			return nil, fail(ErrFormat, err)
		case !req.HasPassword():
			if crypt.IsEncrypted(src) {
				return nil, fail(ErrPasswordRequired, nil)
			}
			return nil, fail(ErrFormat, crypt.ErrNoEncryptionInfo)
		}
		plain, err := s.decrypt(req, src, st)
		if err != nil {
			if errors.Is(err, crypt.ErrPasswordIncorrect) {
				return nil, fail(ErrPasswordIncorrect, err)
			}
			return nil, fail(ErrFormat, err)
		}
		src.Close()
		log.Debug("request decrypted", "size", len(plain))
		if ar, err = archive.Open(bytes.NewReader(plain), int64(len(plain))); err != nil {
			return nil, fail(ErrFormat, err)
		}
	}

	rd, err := parser.Open(ar)
	if err != nil {
		return nil, fail(ErrFormat, err)
	}
	s.own(nil, rd)
	log.Debug("request opened", "sheets", rd.SheetCount())
	return rd, nil
}

func (s *Session) load(req *Request, st *stage) (*Source, error) {
	ctx := withProgress(s.ctx, func(p float64) { s.publishLoad(st, p) })
	if t := s.opts.LoadTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	src, err := s.opts.EffectiveLoader().Load(ctx, req.Locator())
	if err != nil {
		return nil, err
	}
	if src == nil || src.ReaderAt == nil {
		return nil, errors.New("loader returned no stream")
	}
	return src, nil
}

// decrypt drives the decrypter in time slices, checking for cancellation
// and publishing progress between them.
func (s *Session) decrypt(req *Request, src *Source, st *stage) ([]byte, error) {
	d, err := crypt.NewDecrypter(src, req.password)
	if err != nil {
		return nil, err
	}
	slice := s.opts.EffectiveTimeSlice()
	for {
		if err := s.ctx.Err(); err != nil {
			return nil, err
		}
		done, err := d.Advance(slice)
		if err != nil {
			return nil, err
		}
		if done {
			return d.Result(), nil
		}
		s.publishOpen(st, d.Progress())
	}
}

// extract reads the sheets of request n in manifest order, feeding every
// cell of a sheet to the builders of the layouts declared on it.
func (s *Session) extract(n int, rd *parser.Reader, ds *DataSet) error {
	req := s.reqs[n]
	log := s.log.With("request", n, "locator", req.Locator())
	share := extractWeight / float64(len(s.reqs))
	publish := func() {
		s.progress.raise(extractBase + share*(float64(n)+rd.Progress()))
	}
	batch := s.opts.EffectiveCellBatch()

	for ; rd.SheetIndex() < rd.SheetCount(); rd.MoveToNextSheet() {
		publish()
		if err := s.ctx.Err(); err != nil {
			return err
		}
		schemas, err := s.declare(n, rd, ds)
		if err != nil {
			return newRequestError(n, req, ErrFormat, err)
		}
		if len(schemas) == 0 {
			continue
		}
		builders := make([]*table.Builder, len(schemas))
		for i, sc := range schemas {
			builders[i] = table.NewBuilder(sc)
		}

		appended := 0
		for rd.NextCell() {
			c := rd.Cell()
			for _, b := range builders {
				b.Append(c.Ref, c.Value)
			}
			appended += len(builders)
			if appended >= batch {
				appended = 0
				publish()
				if err := s.ctx.Err(); err != nil {
					return err
				}
			}
		}

		for _, b := range builders {
			t := b.Build(req.Converter())
			ds.put(t)
			log.Debug("table built", "sheet", rd.SheetName(), "table", t.Name(),
				"rows", t.RowCount(), "valid", t.Valid())
		}
		if err := rd.Err(); err != nil {
			return newRequestError(n, req, ErrFormat, err)
		}
	}
	publish()
	return nil
}

// declare parses the layouts of the current sheet: inline texts first, then
// cell comments in cell order. Layouts that are malformed or reuse a taken
// name are set aside as errored.
func (s *Session) declare(n int, rd *parser.Reader, ds *DataSet) ([]*schema.Schema, error) {
	req := s.reqs[n]
	sheet := rd.SheetIndex()
	comments, err := rd.Comments()
	if err != nil {
		return nil, err
	}

	texts := make([]parser.Comment, 0, len(req.schemas)+len(comments))
	for _, is := range req.schemas {
		if is.Sheet == sheet {
			texts = append(texts, parser.Comment{Ref: is.Anchor, Text: is.Text})
		}
	}
	texts = append(texts, comments...)

	var out []*schema.Schema
	for _, t := range texts {
		sc := schema.Parse(schema.Origin{
			Request:   n,
			Workbook:  req.Locator(),
			Sheet:     sheet,
			SheetName: rd.SheetName(),
			Cell:      t.Ref,
		}, t.Text)
		if sc == nil {
			continue
		}
		if !sc.Valid() || !ds.reserve(sc.Name) {
			ds.errored = append(ds.errored, sc)
			s.log.Debug("layout rejected", "request", n, "sheet", sc.SheetName,
				"cell", sc.Cell.A1(), "table", sc.Name, "valid", sc.Valid())
			continue
		}
		out = append(out, sc)
	}
	return out, nil
}

// stage holds the load and open fractions of one request as float bits.
type stage struct {
	load atomic.Uint64
	open atomic.Uint64
}

func (s *Session) publishLoad(st *stage, p float64) {
	st.load.Store(math.Float64bits(p))
	s.publishStages()
}

func (s *Session) publishOpen(st *stage, p float64) {
	st.open.Store(math.Float64bits(p))
	s.publishStages()
}

func (s *Session) publishStages() {
	if len(s.stages) == 0 {
		return
	}
	var sum float64
	for i := range s.stages {
		sum += loadWeight*math.Float64frombits(s.stages[i].load.Load()) +
			openWeight*math.Float64frombits(s.stages[i].open.Load())
	}
	s.progress.raise(sum / float64(len(s.stages)))
}

// meter is a monotonic progress value.
type meter struct {
	bits   atomic.Uint64
	mu     sync.Mutex
	notify func(float64)
}

func (m *meter) value() float64 {
	return math.Float64frombits(m.bits.Load())
}

// raise moves the value up to v, held below completion.
func (m *meter) raise(v float64) {
	m.set(min(v, maxPending))
}

func (m *meter) set(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v <= m.value() {
		return
	}
	m.bits.Store(math.Float64bits(v))
	if m.notify != nil {
		m.notify(v)
	}
}
