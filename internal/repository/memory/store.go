// Package memory holds the in-process repositories used when no database is
// configured and by service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/application"
	"uniadmit/internal/domain/document"
	"uniadmit/internal/domain/history"
	"uniadmit/internal/domain/message"
	"uniadmit/internal/domain/payment"
	"uniadmit/internal/domain/program"
)

type Store struct {
	mu       sync.RWMutex
	seq      int64
	order    map[common.UUID]int64
	apps     map[common.UUID]application.Application
	docs     map[common.UUID]document.Request
	payments map[common.UUID]payment.Transaction
	refunds  map[common.UUID]payment.Refund
	programs map[common.UUID]program.Program
	messages []message.Message
	history  []history.StatusChange

	locksMu sync.Mutex
	locks   map[common.UUID]*sync.Mutex

	commitErr error
}

func NewStore() *Store {
	return &Store{
		order:    make(map[common.UUID]int64),
		apps:     make(map[common.UUID]application.Application),
		docs:     make(map[common.UUID]document.Request),
		payments: make(map[common.UUID]payment.Transaction),
		refunds:  make(map[common.UUID]payment.Refund),
		programs: make(map[common.UUID]program.Program),
		locks:    make(map[common.UUID]*sync.Mutex),
	}
}

// FailNextCommit makes the next Atomic commit return err without applying writes.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	s.commitErr = err
	s.mu.Unlock()
}

func (s *Store) Applications() *ApplicationRepository { return &ApplicationRepository{s: s} }
func (s *Store) Documents() *DocumentRepository       { return &DocumentRepository{s: s} }
func (s *Store) Payments() *PaymentRepository         { return &PaymentRepository{s: s} }
func (s *Store) Programs() *ProgramRepository         { return &ProgramRepository{s: s} }
func (s *Store) Messages() *MessageRepository         { return &MessageRepository{s: s} }
func (s *Store) History() *HistoryRepository          { return &HistoryRepository{s: s} }

// track must be called with mu held.
func (s *Store) track(id common.UUID) {
	if _, ok := s.order[id]; !ok {
		s.seq++
		s.order[id] = s.seq
	}
}

func (s *Store) appLock(id common.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

func (s *Store) before(aID common.UUID, aAt time.Time, bID common.UUID, bAt time.Time) bool {
	if !aAt.Equal(bAt) {
		return aAt.Before(bAt)
	}
	return s.order[aID] < s.order[bID]
}

func (s *Store) documentsOf(applicationID common.UUID) []document.Request {
	var items []document.Request
	for _, doc := range s.docs {
		if doc.ApplicationID == applicationID {
			items = append(items, doc)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return s.before(items[i].ID, items[i].CreatedAt, items[j].ID, items[j].CreatedAt)
	})
	return items
}

func (s *Store) paymentsOf(applicationID common.UUID) []payment.Transaction {
	var items []payment.Transaction
	for _, tx := range s.payments {
		if tx.ApplicationID == applicationID {
			items = append(items, tx)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return s.before(items[i].ID, items[i].CreatedAt, items[j].ID, items[j].CreatedAt)
	})
	return items
}

func (s *Store) refundsOf(applicationID common.UUID) []payment.Refund {
	var items []payment.Refund
	for _, refund := range s.refunds {
		if refund.ApplicationID == applicationID {
			items = append(items, refund)
		}
	}
	return items
}

type ApplicationRepository struct {
	s *Store
}

func (r *ApplicationRepository) Create(ctx context.Context, app application.Application) (*application.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.insertLocked(app)
}

func (r *ApplicationRepository) CreateWithPayment(ctx context.Context, app application.Application, fee payment.Transaction) (*application.Application, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	created, err := r.insertLocked(app)
	if err != nil {
		return nil, err
	}
	fee.ApplicationID = created.ID
	r.s.payments[fee.ID] = fee
	r.s.track(fee.ID)
	return created, nil
}

func (r *ApplicationRepository) insertLocked(app application.Application) (*application.Application, error) {
	for _, existing := range r.s.apps {
		if existing.StudentID == app.StudentID && existing.ProgramID == app.ProgramID {
			return nil, common.NewError(common.CodeConflict, "failed to create application: already exists", nil)
		}
	}
	if app.ID.IsZero() {
		app.ID = common.NewUUID()
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	r.s.apps[app.ID] = app
	r.s.track(app.ID)
	return &app, nil
}

func (r *ApplicationRepository) GetByID(ctx context.Context, id common.UUID) (*application.Application, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	app, ok := r.s.apps[id]
	if !ok {
		return nil, common.NewError(common.CodeNotFound, "application not found", nil)
	}
	return &app, nil
}

func (r *ApplicationRepository) FindByStudentAndProgram(ctx context.Context, studentID, programID common.UUID) (*application.Application, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, app := range r.s.apps {
		if app.StudentID == studentID && app.ProgramID == programID {
			found := app
			return &found, nil
		}
	}
	return nil, common.NewError(common.CodeNotFound, "application not found", nil)
}

func (r *ApplicationRepository) ListByStudent(ctx context.Context, studentID common.UUID) ([]application.Application, error) {
	return r.list(func(app application.Application) bool { return app.StudentID == studentID }, 0, 0), nil
}

func (r *ApplicationRepository) List(ctx context.Context, filter application.ListFilter) ([]application.Application, error) {
	return r.list(func(app application.Application) bool {
		if filter.Status != "" && app.Status != filter.Status {
			return false
		}
		return filter.ProgramID.IsZero() || app.ProgramID == filter.ProgramID
	}, filter.Limit, filter.Offset), nil
}

func (r *ApplicationRepository) list(match func(application.Application) bool, limit, offset int) []application.Application {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var items []application.Application
	for _, app := range r.s.apps {
		if match(app) {
			items = append(items, app)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return r.s.before(items[j].ID, items[j].CreatedAt, items[i].ID, items[i].CreatedAt)
	})
	return page(items, limit, offset)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Atomic serializes callers per application and applies staged writes only when
// fn succeeds.
func (r *ApplicationRepository) Atomic(ctx context.Context, id common.UUID, fn func(ctx context.Context, tx application.Tx) error) error {
	lock := r.s.appLock(id)
	lock.Lock()
	defer lock.Unlock()

	app, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	tx := &memoryTx{s: r.s, app: *app}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

type memoryTx struct {
	s      *Store
	app    application.Application
	writes []func()
}

func (t *memoryTx) Load(ctx context.Context) (*application.Aggregate, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return &application.Aggregate{
		Application: t.app,
		Documents:   t.s.documentsOf(t.app.ID),
		Payments:    t.s.paymentsOf(t.app.ID),
		Refunds:     t.s.refundsOf(t.app.ID),
	}, nil
}

func (t *memoryTx) UpdateApplication(ctx context.Context, app application.Application) error {
	t.app = app
	t.writes = append(t.writes, func() { t.s.apps[app.ID] = app })
	return nil
}

func (t *memoryTx) InsertDocumentRequests(ctx context.Context, requests []document.Request) error {
	for _, req := range requests {
		req := req
		t.writes = append(t.writes, func() {
			t.s.docs[req.ID] = req
			t.s.track(req.ID)
		})
	}
	return nil
}

func (t *memoryTx) UpdateDocumentRequest(ctx context.Context, req document.Request) error {
	t.writes = append(t.writes, func() { t.s.docs[req.ID] = req })
	return nil
}

func (t *memoryTx) InsertPaymentTransaction(ctx context.Context, transaction payment.Transaction) error {
	t.writes = append(t.writes, func() {
		t.s.payments[transaction.ID] = transaction
		t.s.track(transaction.ID)
	})
	return nil
}

func (t *memoryTx) UpdatePaymentTransaction(ctx context.Context, transaction payment.Transaction) error {
	t.writes = append(t.writes, func() { t.s.payments[transaction.ID] = transaction })
	return nil
}

func (t *memoryTx) InsertRefund(ctx context.Context, refund payment.Refund) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, existing := range t.s.refunds {
		if existing.ApplicationID == refund.ApplicationID {
			return common.NewError(common.CodeConflict, "failed to create refund request: already exists", nil)
		}
	}
	t.writes = append(t.writes, func() { t.s.refunds[refund.ID] = refund })
	return nil
}

func (t *memoryTx) UpdateRefund(ctx context.Context, refund payment.Refund) error {
	t.writes = append(t.writes, func() { t.s.refunds[refund.ID] = refund })
	return nil
}

func (t *memoryTx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if err := t.s.commitErr; err != nil {
		t.s.commitErr = nil
		return common.NewError(common.CodeInternal, "failed to commit transaction", err)
	}
	for _, write := range t.writes {
		write()
	}
	return nil
}

type DocumentRepository struct {
	s *Store
}

func (r *DocumentRepository) GetByID(ctx context.Context, id common.UUID) (*document.Request, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	doc, ok := r.s.docs[id]
	if !ok {
		return nil, common.NewError(common.CodeNotFound, "document request not found", nil)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByApplication(ctx context.Context, applicationID common.UUID) ([]document.Request, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.documentsOf(applicationID), nil
}

type PaymentRepository struct {
	s *Store
}

func (r *PaymentRepository) GetByID(ctx context.Context, id common.UUID) (*payment.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	tx, ok := r.s.payments[id]
	if !ok {
		return nil, common.NewError(common.CodeNotFound, "payment transaction not found", nil)
	}
	return &tx, nil
}

func (r *PaymentRepository) ListByApplication(ctx context.Context, applicationID common.UUID) ([]payment.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.paymentsOf(applicationID), nil
}

func (r *PaymentRepository) GetRefund(ctx context.Context, id common.UUID) (*payment.Refund, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	refund, ok := r.s.refunds[id]
	if !ok {
		return nil, common.NewError(common.CodeNotFound, "refund request not found", nil)
	}
	return &refund, nil
}

type ProgramRepository struct {
	s *Store
}

func (r *ProgramRepository) Create(ctx context.Context, p program.Program) (*program.Program, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.programs {
		if existing.University == p.University && existing.Name == p.Name && existing.Degree == p.Degree {
			return nil, common.NewError(common.CodeConflict, "failed to create program: already exists", nil)
		}
	}
	p.ID = common.NewUUID()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	r.s.programs[p.ID] = p
	r.s.track(p.ID)
	return &p, nil
}

func (r *ProgramRepository) Update(ctx context.Context, p program.Program) (*program.Program, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.programs[p.ID]; !ok {
		return nil, common.NewError(common.CodeNotFound, "program not found", nil)
	}
	p.UpdatedAt = time.Now().UTC()
	r.s.programs[p.ID] = p
	return &p, nil
}

func (r *ProgramRepository) GetByID(ctx context.Context, id common.UUID) (*program.Program, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.programs[id]
	if !ok {
		return nil, common.NewError(common.CodeNotFound, "program not found", nil)
	}
	return &p, nil
}

func (r *ProgramRepository) ListPublished(ctx context.Context, filter program.ListFilter) ([]program.Program, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	contains := func(value, needle string) bool {
		needle = strings.TrimSpace(needle)
		return needle == "" || strings.Contains(strings.ToLower(value), strings.ToLower(needle))
	}
	var items []program.Program
	for _, p := range r.s.programs {
		if p.Status != program.StatusPublished {
			continue
		}
		if contains(p.University, filter.University) && contains(p.Degree, filter.Degree) && contains(p.Language, filter.Language) {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].University != items[j].University {
			return items[i].University < items[j].University
		}
		return items[i].Name < items[j].Name
	})
	return page(items, filter.Limit, filter.Offset), nil
}

type MessageRepository struct {
	s *Store
}

func (r *MessageRepository) Create(ctx context.Context, msg message.Message) (*message.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg.ID = common.NewUUID()
	msg.CreatedAt = time.Now().UTC()
	r.s.messages = append(r.s.messages, msg)
	return &msg, nil
}

func (r *MessageRepository) ListByApplication(ctx context.Context, applicationID common.UUID, limit, offset int) ([]message.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var items []message.Message
	for _, msg := range r.s.messages {
		if msg.ApplicationID == applicationID {
			items = append(items, msg)
		}
	}
	return page(items, limit, offset), nil
}

type HistoryRepository struct {
	s *Store
}

func (r *HistoryRepository) Append(ctx context.Context, change history.StatusChange) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.history = append(r.s.history, change)
	return nil
}

func (r *HistoryRepository) ListByApplication(ctx context.Context, applicationID common.UUID) ([]history.StatusChange, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var items []history.StatusChange
	for _, change := range r.s.history {
		if change.ApplicationID == applicationID {
			items = append(items, change)
		}
	}
	return items, nil
}
