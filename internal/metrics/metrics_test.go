package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeCallProvider struct{ created, originated, timeouts int64 }

func (f fakeCallProvider) Stats() (int64, int64, int64) { return f.created, f.originated, f.timeouts }

type fakePushProvider struct{ sent, failed int64 }

func (f fakePushProvider) Stats() (int64, int64) { return f.sent, f.failed }

type fakeJanitorProvider struct{ deletions, retries int64 }

func (f fakeJanitorProvider) Stats() (int64, int64) { return f.deletions, f.retries }

func TestCollectEmitsAllProviderMetrics(t *testing.T) {
	c := NewCollector(
		fakeCallProvider{created: 3, originated: 2, timeouts: 1},
		fakePushProvider{sent: 5, failed: 1},
		fakeJanitorProvider{deletions: 4, retries: 9},
		time.Now().Add(-time.Minute),
	)

	count := testutil.CollectAndCount(c)
	if count != 8 {
		t.Fatalf("CollectAndCount = %d, want 8", count)
	}
}

func TestCollectWithNilProvidersOmitsTheirMetrics(t *testing.T) {
	c := NewCollector(nil, nil, nil, time.Now())

	count := testutil.CollectAndCount(c)
	if count != 1 {
		t.Fatalf("CollectAndCount = %d, want 1 (uptime only)", count)
	}
}
