package ledgertest

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"idchain/internal/ledger"
)

// Config returns a client config pointed at the simulated contract with short
// deadlines.
func Config() ledger.Config {
	return ledger.Config{
		ContractAddress: ContractAddress,
		AdminKey:        AdminKey,
		ConfirmTimeout:  200 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
	}
}

// NewClient returns a ledger client signing with AdminKey against b.
func NewClient(t testing.TB, b *Backend, opts ...ledger.Option) *ledger.Client {
	t.Helper()
	return NewClientWithConfig(t, b, Config(), opts...)
}

// NewClientWithConfig returns a ledger client over b using cfg.
func NewClientWithConfig(t testing.TB, b *Backend, cfg ledger.Config, opts ...ledger.Option) *ledger.Client {
	t.Helper()
	opts = append([]ledger.Option{
		ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		ledger.WithAccountSender(b),
	}, opts...)
	c, err := ledger.New(b, cfg, opts...)
	if err != nil {
		t.Fatalf("ledger client: %v", err)
	}
	return c
}
