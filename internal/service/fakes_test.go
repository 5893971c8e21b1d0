package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carbex/carbex/internal/domain"
	"github.com/carbex/carbex/internal/notify"
)

// In-memory stand-ins for the Postgres, Redis and S3 layers. Each fake
// keeps just enough state for the flows under test.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeUserStore struct {
	users map[string]domain.User
}

func newFakeUserStore(users ...domain.User) *fakeUserStore {
	f := &fakeUserStore{users: make(map[string]domain.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserStore) Create(ctx context.Context, u domain.User) error {
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return domain.ErrAlreadyExists
		}
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakeUserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (f *fakeUserStore) Update(ctx context.Context, u domain.User) error {
	if _, ok := f.users[u.ID]; !ok {
		return domain.ErrNotFound
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakeUserStore) UpdateKYCStatus(ctx context.Context, id string, from, to domain.KYCStatus) error {
	u, ok := f.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	if u.KYCStatus != from {
		return domain.ErrInvalidTransition
	}
	u.KYCStatus = to
	f.users[id] = u
	return nil
}

func (f *fakeUserStore) List(ctx context.Context, filter domain.UserFilter, opts domain.ListOpts) ([]domain.User, error) {
	var out []domain.User
	for _, u := range f.users {
		if matchUser(u, filter) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeUserStore) Count(ctx context.Context, filter domain.UserFilter) (int64, error) {
	var n int64
	for _, u := range f.users {
		if matchUser(u, filter) {
			n++
		}
	}
	return n, nil
}

func matchUser(u domain.User, filter domain.UserFilter) bool {
	if filter.Role != "" && u.Role != filter.Role {
		return false
	}
	if filter.KYCStatus != "" && u.KYCStatus != filter.KYCStatus {
		return false
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(u.Email), needle) &&
			!strings.Contains(strings.ToLower(u.FullName), needle) {
			return false
		}
	}
	return true
}

type fakeSessionStore struct {
	sessions map[string]domain.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]domain.Session)}
}

func (f *fakeSessionStore) Put(ctx context.Context, s domain.Session) error {
	f.sessions[s.Token] = s
	return nil
}

func (f *fakeSessionStore) Get(ctx context.Context, token string) (domain.Session, error) {
	s, ok := f.sessions[token]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessionStore) Delete(ctx context.Context, token string) error {
	if _, ok := f.sessions[token]; !ok {
		return domain.ErrNotFound
	}
	delete(f.sessions, token)
	return nil
}

func (f *fakeSessionStore) DeleteByUser(ctx context.Context, userID string) error {
	for token, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, token)
		}
	}
	return nil
}

type fakeAuditLog struct {
	entries []domain.AuditEntry
	logErr  error
}

func (f *fakeAuditLog) Log(ctx context.Context, event, actorID string, detail map[string]any) error {
	if f.logErr != nil {
		return f.logErr
	}
	f.entries = append(f.entries, domain.AuditEntry{
		ID:        int64(len(f.entries) + 1),
		Event:     event,
		ActorID:   actorID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (f *fakeAuditLog) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	out := make([]domain.AuditEntry, 0, len(f.entries))
	for i := len(f.entries) - 1; i >= 0; i-- {
		out = append(out, f.entries[i])
	}
	return out, nil
}

func (f *fakeAuditLog) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeAuditLog) events() []string {
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Event
	}
	return out
}

func (f *fakeAuditLog) hasEvent(event string) bool {
	for _, e := range f.entries {
		if e.Event == event {
			return true
		}
	}
	return false
}

type fakeBalanceStore struct {
	balances  map[string]map[domain.Asset]domain.Balance
	adjs      []domain.BalanceAdjustment
	adjustErr error
}

func newFakeBalanceStore() *fakeBalanceStore {
	return &fakeBalanceStore{balances: make(map[string]map[domain.Asset]domain.Balance)}
}

func (f *fakeBalanceStore) set(b domain.Balance) {
	if f.balances[b.UserID] == nil {
		f.balances[b.UserID] = make(map[domain.Asset]domain.Balance)
	}
	f.balances[b.UserID][b.Asset] = b
}

func (f *fakeBalanceStore) Get(ctx context.Context, userID string, asset domain.Asset) (domain.Balance, error) {
	if b, ok := f.balances[userID][asset]; ok {
		return b, nil
	}
	return domain.Balance{UserID: userID, Asset: asset}, nil
}

func (f *fakeBalanceStore) ListByUser(ctx context.Context, userID string) ([]domain.Balance, error) {
	var out []domain.Balance
	for _, b := range f.balances[userID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (f *fakeBalanceStore) Adjust(ctx context.Context, adj domain.BalanceAdjustment) (domain.Balance, error) {
	if f.adjustErr != nil {
		return domain.Balance{}, f.adjustErr
	}
	b, _ := f.Get(ctx, adj.UserID, adj.Asset)
	b.Amount = b.Amount.Add(adj.Delta)
	if b.Amount.LessThan(b.Reserved) {
		return domain.Balance{}, domain.ErrInsufficientFunds
	}
	b.UpdatedAt = adj.CreatedAt
	f.set(b)
	f.adjs = append(f.adjs, adj)
	return b, nil
}

func (f *fakeBalanceStore) ListAdjustments(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.BalanceAdjustment, error) {
	var out []domain.BalanceAdjustment
	for _, a := range f.adjs {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeOrderStore struct {
	orders   map[string]domain.Order
	placeErr error
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]domain.Order)}
}

func (f *fakeOrderStore) Place(ctx context.Context, order domain.Order) (domain.Order, error) {
	if f.placeErr != nil {
		return domain.Order{}, f.placeErr
	}
	f.orders[order.ID] = order
	return order, nil
}

func (f *fakeOrderStore) Cancel(ctx context.Context, id, userID string) (domain.Order, error) {
	o, ok := f.orders[id]
	if !ok || o.UserID != userID {
		return domain.Order{}, domain.ErrNotFound
	}
	if o.Status != domain.OrderStatusOpen {
		return domain.Order{}, domain.ErrInvalidTransition
	}
	now := time.Now().UTC()
	o.Status = domain.OrderStatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	f.orders[id] = o
	return o, nil
}

func (f *fakeOrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderStore) ListOpen(ctx context.Context, cert domain.CertificateType, side domain.OrderSide) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		if o.Status == domain.OrderStatusOpen && o.Certificate == cert && o.Side == side {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeOrderStore) List(ctx context.Context, filter domain.OrderFilter, opts domain.ListOpts) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.Certificate != "" && o.Certificate != filter.Certificate {
			continue
		}
		if filter.Side != "" && o.Side != filter.Side {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeExecutionStore struct {
	applyFn  func(req domain.ExecutionRequest, preview domain.PreviewFunc) (*domain.ExecutionOutcome, error)
	applied  []domain.ExecutionRequest
	outcomes map[string]*domain.ExecutionOutcome
}

func newFakeExecutionStore() *fakeExecutionStore {
	return &fakeExecutionStore{outcomes: make(map[string]*domain.ExecutionOutcome)}
}

func (f *fakeExecutionStore) Apply(ctx context.Context, req domain.ExecutionRequest, preview domain.PreviewFunc) (*domain.ExecutionOutcome, error) {
	f.applied = append(f.applied, req)
	if f.applyFn == nil {
		return nil, errors.New("applyFn not set")
	}
	return f.applyFn(req, preview)
}

func (f *fakeExecutionStore) GetByID(ctx context.Context, id string) (domain.Execution, error) {
	o, ok := f.outcomes[id]
	if !ok {
		return domain.Execution{}, domain.ErrNotFound
	}
	return o.Execution, nil
}

func (f *fakeExecutionStore) GetOutcome(ctx context.Context, id, userID string) (*domain.ExecutionOutcome, error) {
	o, ok := f.outcomes[id]
	if !ok || o.Execution.UserID != userID {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeExecutionStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Execution, error) {
	var out []domain.Execution
	for _, o := range f.outcomes {
		if o.Execution.UserID == userID {
			out = append(out, o.Execution)
		}
	}
	return out, nil
}

type fakeTradeStore struct {
	stats      domain.MarketStats
	statsErr   error
	statsCalls int
	trades     []domain.Trade
}

func (f *fakeTradeStore) ListByCertificate(ctx context.Context, cert domain.CertificateType, opts domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range f.trades {
		if t.Certificate == cert {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range f.trades {
		if t.BuyerID == userID || t.SellerID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTradeStore) Stats(ctx context.Context, cert domain.CertificateType, since time.Time) (domain.MarketStats, error) {
	f.statsCalls++
	if f.statsErr != nil {
		return domain.MarketStats{}, f.statsErr
	}
	stats := f.stats
	stats.Certificate = cert
	return stats, nil
}

func (f *fakeTradeStore) PriceAt(ctx context.Context, cert domain.CertificateType, at time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeKYCStore struct {
	docs      map[string]domain.KYCDocument
	createErr error
	reviews   []domain.KYCReview
	pending   []domain.User
}

func newFakeKYCStore() *fakeKYCStore {
	return &fakeKYCStore{docs: make(map[string]domain.KYCDocument)}
}

func (f *fakeKYCStore) CreateDocument(ctx context.Context, doc domain.KYCDocument) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeKYCStore) GetDocument(ctx context.Context, id string) (domain.KYCDocument, error) {
	doc, ok := f.docs[id]
	if !ok {
		return domain.KYCDocument{}, domain.ErrNotFound
	}
	return doc, nil
}

func (f *fakeKYCStore) ListByUser(ctx context.Context, userID string) ([]domain.KYCDocument, error) {
	var out []domain.KYCDocument
	for _, doc := range f.docs {
		if doc.UserID == userID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeKYCStore) ListPendingUsers(ctx context.Context, opts domain.ListOpts) ([]domain.User, error) {
	return f.pending, nil
}

func (f *fakeKYCStore) RecordReview(ctx context.Context, review domain.KYCReview) error {
	f.reviews = append(f.reviews, review)
	return nil
}

type fakeContactStore struct {
	reqs map[string]domain.ContactRequest
}

func newFakeContactStore() *fakeContactStore {
	return &fakeContactStore{reqs: make(map[string]domain.ContactRequest)}
}

func (f *fakeContactStore) Create(ctx context.Context, req domain.ContactRequest) error {
	f.reqs[req.ID] = req
	return nil
}

func (f *fakeContactStore) GetByID(ctx context.Context, id string) (domain.ContactRequest, error) {
	req, ok := f.reqs[id]
	if !ok {
		return domain.ContactRequest{}, domain.ErrNotFound
	}
	return req, nil
}

func (f *fakeContactStore) Update(ctx context.Context, id string, status domain.ContactStatus, assignedTo string) (domain.ContactRequest, error) {
	req, ok := f.reqs[id]
	if !ok {
		return domain.ContactRequest{}, domain.ErrNotFound
	}
	req.Status = status
	req.AssignedTo = assignedTo
	req.UpdatedAt = time.Now().UTC()
	f.reqs[id] = req
	return req, nil
}

func (f *fakeContactStore) List(ctx context.Context, status domain.ContactStatus, opts domain.ListOpts) ([]domain.ContactRequest, error) {
	var out []domain.ContactRequest
	for _, req := range f.reqs {
		if status == "" || req.Status == status {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeSourceStore struct {
	sources map[string]domain.ScrapeSource
}

func newFakeSourceStore() *fakeSourceStore {
	return &fakeSourceStore{sources: make(map[string]domain.ScrapeSource)}
}

func (f *fakeSourceStore) Create(ctx context.Context, src domain.ScrapeSource) (domain.ScrapeSource, error) {
	f.sources[src.ID] = src
	return src, nil
}

func (f *fakeSourceStore) Update(ctx context.Context, src domain.ScrapeSource) (domain.ScrapeSource, error) {
	if _, ok := f.sources[src.ID]; !ok {
		return domain.ScrapeSource{}, domain.ErrNotFound
	}
	src.UpdatedAt = time.Now().UTC()
	f.sources[src.ID] = src
	return src, nil
}

func (f *fakeSourceStore) Delete(ctx context.Context, id string) error {
	if _, ok := f.sources[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.sources, id)
	return nil
}

func (f *fakeSourceStore) GetByID(ctx context.Context, id string) (domain.ScrapeSource, error) {
	src, ok := f.sources[id]
	if !ok {
		return domain.ScrapeSource{}, domain.ErrNotFound
	}
	return src, nil
}

func (f *fakeSourceStore) List(ctx context.Context) ([]domain.ScrapeSource, error) {
	var out []domain.ScrapeSource
	for _, src := range f.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeSourceStore) ListEnabled(ctx context.Context) ([]domain.ScrapeSource, error) {
	var out []domain.ScrapeSource
	for _, src := range f.sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out, nil
}

func (f *fakeSourceStore) RecordResult(ctx context.Context, id string, status domain.SourceStatus, price decimal.Decimal, scrapeErr string, at time.Time) error {
	return nil
}

type fakePriceStore struct {
	latest map[domain.CertificateType][]domain.ReferencePrice
}

func (f *fakePriceStore) Insert(ctx context.Context, p domain.ReferencePrice) error {
	return nil
}

func (f *fakePriceStore) Latest(ctx context.Context, cert domain.CertificateType) ([]domain.ReferencePrice, error) {
	return f.latest[cert], nil
}

func (f *fakePriceStore) History(ctx context.Context, sourceID string, opts domain.ListOpts) ([]domain.ReferencePrice, error) {
	return nil, nil
}

type fakeBookCache struct {
	snaps  map[domain.CertificateType]domain.OrderBookSnapshot
	getErr error
	sets   int
}

func newFakeBookCache() *fakeBookCache {
	return &fakeBookCache{snaps: make(map[domain.CertificateType]domain.OrderBookSnapshot)}
}

func (f *fakeBookCache) SetSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) error {
	f.sets++
	f.snaps[snap.Certificate] = snap
	return nil
}

func (f *fakeBookCache) GetSnapshot(ctx context.Context, cert domain.CertificateType) (domain.OrderBookSnapshot, error) {
	if f.getErr != nil {
		return domain.OrderBookSnapshot{}, f.getErr
	}
	snap, ok := f.snaps[cert]
	if !ok {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (f *fakeBookCache) Invalidate(ctx context.Context, cert domain.CertificateType) error {
	delete(f.snaps, cert)
	return nil
}

type fakePriceCache struct {
	prices map[domain.CertificateType][]domain.ReferencePrice
	getErr error
}

func (f *fakePriceCache) SetPrice(ctx context.Context, p domain.ReferencePrice) error {
	if f.prices == nil {
		f.prices = make(map[domain.CertificateType][]domain.ReferencePrice)
	}
	f.prices[p.Certificate] = append(f.prices[p.Certificate], p)
	return nil
}

func (f *fakePriceCache) GetPrices(ctx context.Context, cert domain.CertificateType) ([]domain.ReferencePrice, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.prices[cert], nil
}

type fakeLimiter struct {
	deny bool
	keys []string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	return !f.deny, nil
}

func (f *fakeLimiter) Wait(ctx context.Context, key string) error {
	return nil
}

type fakeLocks struct {
	held     bool
	acquired []string
	unlocked int
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.acquired = append(f.acquired, key)
	return func() { f.unlocked++ }, nil
}

type fakeIdem struct {
	fresh      bool
	existingID string
	completed  []string
	released   int
}

func (f *fakeIdem) Reserve(ctx context.Context, userID, key string, ttl time.Duration) (string, bool, error) {
	return f.existingID, f.fresh, nil
}

func (f *fakeIdem) Complete(ctx context.Context, userID, key, executionID string, ttl time.Duration) error {
	f.completed = append(f.completed, executionID)
	return nil
}

func (f *fakeIdem) Release(ctx context.Context, userID, key string) error {
	f.released++
	return nil
}

type published struct {
	channel string
	payload []byte
}

type fakeBus struct {
	published []published
	streams   map[string][][]byte
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	f.published = append(f.published, published{channel: channel, payload: payload})
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, channels ...string) (<-chan domain.BusMessage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if f.streams == nil {
		f.streams = make(map[string][][]byte)
	}
	f.streams[stream] = append(f.streams[stream], payload)
	return nil
}

func (f *fakeBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (f *fakeBus) channels() []string {
	out := make([]string, len(f.published))
	for i, p := range f.published {
		out[i] = p.channel
	}
	return out
}

type fakeBlob struct {
	objects map[string][]byte
	putErr  error
	deleted []string
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (f *fakeBlob) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	return nil
}

func (f *fakeBlob) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return f.Put(ctx, path, data, "")
}

func (f *fakeBlob) Delete(ctx context.Context, path string) error {
	f.deleted = append(f.deleted, path)
	delete(f.objects, path)
	return nil
}

func (f *fakeBlob) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	b, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlob) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for path, b := range f.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{Path: path, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (f *fakeBlob) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

type captureSender struct {
	events []string
}

func (c *captureSender) Send(ctx context.Context, title, message string) error {
	c.events = append(c.events, title)
	return nil
}

func (c *captureSender) Name() string { return "capture" }

func testNotifier(sender *captureSender) *notify.Notifier {
	return notify.NewNotifier([]notify.Sender{sender}, nil, testLogger())
}
