package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/skechum/internal/checkout"
	"github.com/digkill/skechum/internal/imagegen"
	"github.com/digkill/skechum/internal/models"
	"github.com/digkill/skechum/internal/repository"
	"github.com/digkill/skechum/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testUser = "6f1c2b9e-3a7d-4f0e-9b1a-2c3d4e5f6a7b"

type fakeCredits struct {
	mu       sync.Mutex
	balances map[string]int
	logs     []models.CreditLog
	applyErr error
}

func newFakeCredits() *fakeCredits {
	return &fakeCredits{balances: map[string]int{}}
}

// seed creates an existing balance row so no signup bonus is granted.
func (f *fakeCredits) seed(userID string, balance int) {
	f.balances[userID] = balance
}

func (f *fakeCredits) Get(_ context.Context, userID string) (*models.UserCredits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[userID]
	if !ok {
		return nil, nil
	}
	return &models.UserCredits{UserID: userID, Balance: b}, nil
}

func (f *fakeCredits) Create(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.balances[userID]; ok {
		return false, nil
	}
	f.balances[userID] = 0
	return true, nil
}

func (f *fakeCredits) Apply(_ context.Context, entry *models.CreditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	before := f.balances[entry.UserID]
	after := before + entry.Amount
	if after < 0 {
		return repository.ErrInsufficientCredits
	}
	f.balances[entry.UserID] = after
	entry.BalanceBefore = before
	entry.BalanceAfter = after
	entry.ID = int64(len(f.logs) + 1)
	entry.CreatedAt = time.Now()
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeCredits) Logs(_ context.Context, userID string, limit, offset int) ([]models.CreditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CreditLog
	for i := len(f.logs) - 1; i >= 0; i-- {
		if f.logs[i].UserID == userID {
			out = append(out, f.logs[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCredits) FindByReference(_ context.Context, userID string, typ models.CreditLogType, reference string) (*models.CreditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.logs) - 1; i >= 0; i-- {
		l := f.logs[i]
		if l.UserID == userID && l.Type == typ && l.Reference == reference {
			return &l, nil
		}
	}
	return nil, nil
}

func (f *fakeCredits) ofType(typ models.CreditLogType) []models.CreditLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CreditLog
	for _, l := range f.logs {
		if l.Type == typ {
			out = append(out, l)
		}
	}
	return out
}

type fakeImages struct {
	mu        sync.Mutex
	images    map[string]models.UserImage
	createErr error
	addErr    error
	downloads map[string]int64
	lastList  repository.ImageFilter
	listCalls int
}

func newFakeImages() *fakeImages {
	return &fakeImages{images: map[string]models.UserImage{}, downloads: map[string]int64{}}
}

func (f *fakeImages) Create(_ context.Context, img *models.UserImage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}
	f.images[img.ID] = *img
	return nil
}

func (f *fakeImages) GetByID(_ context.Context, id string) (*models.UserImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[id]
	if !ok {
		return nil, nil
	}
	return &img, nil
}

func (f *fakeImages) List(_ context.Context, filter repository.ImageFilter) ([]models.UserImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastList = filter
	f.listCalls++
	var out []models.UserImage
	for _, img := range f.images {
		if filter.UserID != "" && img.UserID != filter.UserID {
			continue
		}
		if filter.Style != "" && img.Style != filter.Style {
			continue
		}
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeImages) AddDownloads(_ context.Context, counts map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	for id, n := range counts {
		f.downloads[id] += n
	}
	return nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	image *imagegen.Image
	err   error
	block bool
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(ctx context.Context, _ imagegen.Options) (*imagegen.Image, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.image, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeLocker struct {
	held     map[string]bool
	released int
}

func (l *fakeLocker) Acquire(_ context.Context, name string) (func(), bool, error) {
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func() {
		delete(l.held, name)
		l.released++
	}, true, nil
}

type fakeFetcher struct {
	data        []byte
	contentType string
	err         error
	urls        []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, string, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, f.contentType, nil
}

type fakeMirror struct {
	uploads int
}

func (m *fakeMirror) Upload(_ context.Context, owner string, _ []byte, _ string) (*storage.Object, error) {
	m.uploads++
	key := "generations/" + owner + "/mirrored.png"
	return &storage.Object{Key: key, URL: "https://cdn.example.com/" + key}, nil
}

type fakeExplore struct {
	pages       map[string]ImagePage
	invalidated int
}

func (c *fakeExplore) Get(_ context.Context, page string, dest any) (bool, error) {
	p, ok := c.pages[page]
	if !ok {
		return false, nil
	}
	*dest.(*ImagePage) = p
	return true, nil
}

func (c *fakeExplore) Set(_ context.Context, page string, value any) error {
	if c.pages == nil {
		c.pages = map[string]ImagePage{}
	}
	c.pages[page] = *value.(*ImagePage)
	return nil
}

func (c *fakeExplore) Invalidate(context.Context) error {
	c.invalidated++
	c.pages = nil
	return nil
}

type fakeCounter struct {
	counts   map[string]int64
	restored map[string]int64
}

func (c *fakeCounter) Add(_ context.Context, id string) error {
	if c.counts == nil {
		c.counts = map[string]int64{}
	}
	c.counts[id]++
	return nil
}

func (c *fakeCounter) Drain(context.Context) (map[string]int64, error) {
	out := c.counts
	c.counts = nil
	if out == nil {
		out = map[string]int64{}
	}
	return out, nil
}

func (c *fakeCounter) Restore(_ context.Context, counts map[string]int64) error {
	c.restored = counts
	return nil
}

type fakePayments struct {
	mu       sync.Mutex
	byID     map[string]*models.Payment
	nextID   int64
	marked   int
	statuses []models.PaymentStatus
}

func newFakePayments() *fakePayments {
	return &fakePayments{byID: map[string]*models.Payment{}}
}

func (f *fakePayments) Create(_ context.Context, p *models.Payment) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[p.PaymentID]; ok {
		return false, nil
	}
	f.nextID++
	p.ID = f.nextID
	stored := *p
	f.byID[p.PaymentID] = &stored
	return true, nil
}

func (f *fakePayments) MarkSucceeded(_ context.Context, id int64, credits int, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if p.ID == id && p.Status != models.PaymentSucceeded {
			p.Status = models.PaymentSucceeded
			p.CreditsAdded = credits
			f.marked++
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePayments) UpdateStatus(_ context.Context, id int64, status models.PaymentStatus, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	for _, p := range f.byID {
		if p.ID == id {
			p.Status = status
		}
	}
	return nil
}

func (f *fakePayments) FindByPaymentID(_ context.Context, paymentID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[paymentID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

type fakePlans struct {
	plans []models.Plan
}

func (f *fakePlans) ListActive(context.Context) ([]models.Plan, error) {
	var out []models.Plan
	for _, p := range f.plans {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePlans) GetByID(_ context.Context, id int64) (*models.Plan, error) {
	for _, p := range f.plans {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakePlans) GetByProductID(_ context.Context, productID string) (*models.Plan, error) {
	for _, p := range f.plans {
		if p.ProductID == productID {
			return &p, nil
		}
	}
	return nil, nil
}

type fakeWebhooks struct {
	seen      map[string]bool
	forgotten []string
}

func (f *fakeWebhooks) Record(_ context.Context, provider, eventID, _ string) (bool, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := provider + ":" + eventID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func (f *fakeWebhooks) Forget(_ context.Context, provider, eventID string) error {
	delete(f.seen, provider+":"+eventID)
	f.forgotten = append(f.forgotten, eventID)
	return nil
}

type fakeProvider struct {
	payments   map[string]*checkout.Payment
	fetchCalls int
	fetchErr   error
	event      *checkout.Event
	webhookErr error
	sessions   []checkout.CheckoutRequest
}

func (p *fakeProvider) Name() string { return "dodo" }

func (p *fakeProvider) FetchPayment(_ context.Context, id string) (*checkout.Payment, error) {
	p.fetchCalls++
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	pay, ok := p.payments[id]
	if !ok {
		return nil, checkout.ErrPaymentNotFound
	}
	cp := *pay
	return &cp, nil
}

func (p *fakeProvider) CreateCheckout(_ context.Context, req checkout.CheckoutRequest) (*checkout.Session, error) {
	p.sessions = append(p.sessions, req)
	return &checkout.Session{ID: "cs_1", URL: "https://pay.example.com/cs_1"}, nil
}

func (p *fakeProvider) ParseWebhook([]byte, http.Header) (*checkout.Event, error) {
	if p.webhookErr != nil {
		return nil, p.webhookErr
	}
	return p.event, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 10), G: 120, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
