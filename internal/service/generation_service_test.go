package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/skechum/internal/imagegen"
	"github.com/digkill/skechum/internal/models"
)

type generationFixture struct {
	svc     *GenerationService
	ledger  *CreditService
	credits *fakeCredits
	images  *fakeImages
	gen     *fakeGenerator
	locker  *fakeLocker
	explore *fakeExplore
}

func newGenerationFixture(t *testing.T, balance int, timeout time.Duration) *generationFixture {
	t.Helper()
	f := &generationFixture{
		credits: newFakeCredits(),
		images:  newFakeImages(),
		gen: &fakeGenerator{image: &imagegen.Image{
			URL:    "https://img.example.com/out.png",
			Format: models.FormatPNG,
		}},
		locker:  &fakeLocker{},
		explore: &fakeExplore{},
	}
	f.credits.seed(testUser, balance)
	f.ledger = NewCreditService(f.credits, f.images, 3, testLogger())
	f.svc = NewGenerationService(
		GenerationOptions{Cost: 2, Timeout: timeout, Model: "recraftv3"},
		testLogger(),
		GenerationDeps{
			Generator: f.gen,
			Credits:   f.ledger,
			Images:    f.images,
			Locker:    f.locker,
			Explore:   f.explore,
		},
	)
	return f
}

func validRequest() GenerateRequest {
	return GenerateRequest{Prompt: "  A red fox in the snow ", Style: models.StyleRealistic}
}

func TestGenerateSuccess(t *testing.T) {
	f := newGenerationFixture(t, 5, time.Second)

	res, err := f.svc.Generate(context.Background(), testUser, validRequest())
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Balance)
	assert.Regexp(t, `^\d+\.\ds$`, res.GenerationTime)
	assert.Equal(t, "A red fox in the snow", res.Image.Prompt)
	assert.Equal(t, "recraftv3", res.Image.Settings.Model)
	assert.Equal(t, models.DefaultImageSize, res.Image.Settings.Size)

	stored, err := f.images.GetByID(context.Background(), res.Image.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	spends := f.credits.ofType(models.CreditSpend)
	require.Len(t, spends, 1)
	assert.Equal(t, res.Image.ID, spends[0].Reference)
	assert.Equal(t, 1, f.explore.invalidated)
	assert.Equal(t, 1, f.locker.released)
}

func TestRefundOfDeliveredImageIsRejected(t *testing.T) {
	f := newGenerationFixture(t, 5, time.Second)
	ctx := context.Background()

	res, err := f.svc.Generate(ctx, testUser, validRequest())
	require.NoError(t, err)
	require.Equal(t, 3, f.credits.balances[testUser])

	_, err = f.ledger.Refund(ctx, testUser, RefundRequest{Reference: res.Image.ID})
	assert.ErrorIs(t, err, ErrRefundNotAllowed)
	assert.Equal(t, 3, f.credits.balances[testUser])
	assert.Empty(t, f.credits.ofType(models.CreditRefund))
}

func TestGenerateMirrorsIntoStorage(t *testing.T) {
	f := newGenerationFixture(t, 5, time.Second)
	mirror := &fakeMirror{}
	f.svc.mirror = mirror
	f.svc.fetcher = &fakeFetcher{data: []byte("png"), contentType: "image/png"}

	res, err := f.svc.Generate(context.Background(), testUser, validRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, mirror.uploads)
	assert.Equal(t, "https://cdn.example.com/generations/"+testUser+"/mirrored.png", res.Image.ImageURL)
	assert.NotEmpty(t, res.Image.StorageKey)
}

func TestGenerateMirrorFailureKeepsProviderURL(t *testing.T) {
	f := newGenerationFixture(t, 5, time.Second)
	f.svc.mirror = &fakeMirror{}
	f.svc.fetcher = &fakeFetcher{err: errors.New("404")}

	res, err := f.svc.Generate(context.Background(), testUser, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/out.png", res.Image.ImageURL)
}

func TestGenerateInsufficientCreditsSkipsProvider(t *testing.T) {
	f := newGenerationFixture(t, 1, time.Second)

	_, err := f.svc.Generate(context.Background(), testUser, validRequest())
	require.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, 0, f.gen.callCount())
	assert.Equal(t, 1, f.credits.balances[testUser])
}

func TestGenerateProviderFailureRefundsCost(t *testing.T) {
	f := newGenerationFixture(t, 5, time.Second)
	f.gen.err = errors.New("recraft returned 500")

	_, err := f.svc.Generate(context.Background(), testUser, validRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrGenerationTimeout)

	spends := f.credits.ofType(models.CreditSpend)
	refunds := f.credits.ofType(models.CreditRefund)
	require.Len(t, spends, 1)
	require.Len(t, refunds, 1)
	assert.Equal(t, -spends[0].Amount, refunds[0].Amount)
	assert.Equal(t, spends[0].Reference, refunds[0].Reference)
	assert.Equal(t, 5, f.credits.balances[testUser])
	assert.Empty(t, f.images.images)
}

func TestGenerateDeadlineMapsToTimeout(t *testing.T) {
	f := newGenerationFixture(t, 5, 20*time.Millisecond)
	f.gen.block = true

	_, err := f.svc.Generate(context.Background(), testUser, validRequest())
	require.ErrorIs(t, err, ErrGenerationTimeout)
	assert.Equal(t, 5, f.credits.balances[testUser])
}

func TestGenerateSaveFailureRefunds(t *testing.T) {
	f := newGenerationFixture(t, 5, time.Second)
	f.images.createErr = errors.New("db down")

	_, err := f.svc.Generate(context.Background(), testUser, validRequest())
	require.Error(t, err)
	assert.Equal(t, 5, f.credits.balances[testUser])
	assert.Len(t, f.credits.ofType(models.CreditRefund), 1)
}

func TestGenerateConcurrentRequestRejected(t *testing.T) {
	f := newGenerationFixture(t, 5, time.Second)
	f.locker.held = map[string]bool{"generate:" + testUser: true}

	_, err := f.svc.Generate(context.Background(), testUser, validRequest())
	require.ErrorIs(t, err, ErrGenerationInProgress)
	assert.Equal(t, 0, f.gen.callCount())
	assert.Equal(t, 5, f.credits.balances[testUser])
}

func TestGenerateValidation(t *testing.T) {
	f := newGenerationFixture(t, 5, time.Second)
	long := make([]byte, 1001)
	for i := range long {
		long[i] = 'a'
	}

	cases := map[string]GenerateRequest{
		"empty prompt":  {Prompt: "   ", Style: models.StyleIcon},
		"long prompt":   {Prompt: string(long), Style: models.StyleIcon},
		"unknown style": {Prompt: "cat", Style: "oil_painting"},
		"bad size":      {Prompt: "cat", Style: models.StyleIcon, Settings: &GenerationSettings{Size: "10x10"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Generate(context.Background(), testUser, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, f.gen.callCount())
}

func TestProbeChargesNothing(t *testing.T) {
	f := newGenerationFixture(t, 5, time.Second)

	img, err := f.svc.Probe(context.Background(), ProbeRequest{Prompt: "test"})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/out.png", img.URL)
	assert.Empty(t, f.credits.logs)
	assert.Empty(t, f.images.images)
}
