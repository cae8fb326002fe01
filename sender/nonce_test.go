package sender

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestNonceTracker(t *testing.T) {
	from := common.HexToAddress("0x617b3a3528F9cDd6630fd3301B9c8911F7Bf063D")
	other := common.HexToAddress("0x1")

	type testCase struct {
		Name          string
		Run           func(tracker *NonceTracker)
		NetworkNonce  uint64
		ExpectedNonce uint64
	}

	testCases := []testCase{
		{
			Name:          "empty tracker uses the network nonce",
			Run:           func(tracker *NonceTracker) {},
			NetworkNonce:  5,
			ExpectedNonce: 5,
		},
		{
			Name:          "reserved nonce is not given twice",
			Run:           func(tracker *NonceTracker) { tracker.Reserve(1, from, 5) },
			NetworkNonce:  5,
			ExpectedNonce: 6,
		},
		{
			Name:          "network ahead of the tracker wins",
			Run:           func(tracker *NonceTracker) { tracker.Reserve(1, from, 5) },
			NetworkNonce:  9,
			ExpectedNonce: 9,
		},
		{
			Name:          "tracked explicit nonce is skipped",
			Run:           func(tracker *NonceTracker) { tracker.Track(1, from, 7) },
			NetworkNonce:  5,
			ExpectedNonce: 8,
		},
		{
			Name: "released nonce is used again",
			Run: func(tracker *NonceTracker) {
				nonce := tracker.Reserve(1, from, 5)
				tracker.Release(1, from, nonce)
			},
			NetworkNonce:  5,
			ExpectedNonce: 5,
		},
		{
			Name: "release of an older nonce keeps the newer reservation",
			Run: func(tracker *NonceTracker) {
				tracker.Reserve(1, from, 5)
				tracker.Reserve(1, from, 5)
				tracker.Release(1, from, 5)
			},
			NetworkNonce:  5,
			ExpectedNonce: 7,
		},
		{
			Name: "other chain and address are independent",
			Run: func(tracker *NonceTracker) {
				tracker.Reserve(2, from, 5)
				tracker.Reserve(1, other, 5)
			},
			NetworkNonce:  5,
			ExpectedNonce: 5,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			tracker := NewNonceTracker()
			tc.Run(tracker)
			assert.Equal(t, tc.ExpectedNonce, tracker.Reserve(1, from, tc.NetworkNonce))
		})
	}
}
