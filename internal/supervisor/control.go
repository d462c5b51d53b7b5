package supervisor

import (
	"context"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/rpc"
)

// GenerateBlocks asks the owned simulator to produce n blocks.
func (s *Supervisor) GenerateBlocks(ctx context.Context, n uint64) error {
	return s.generate(ctx, n, SourceManual)
}

// GenerateEpochs produces n epochs worth of blocks: (rounds per epoch + 1) * n.
func (s *Supervisor) GenerateEpochs(ctx context.Context, n uint64) error {
	cell, err := s.resolve()
	if err != nil {
		return err
	}
	blocks := cell.opts.BlocksPerEpoch() * n
	if err := s.client.GenerateBlocks(ctx, cell.opts.ServerPort(), blocks); err != nil {
		return err
	}
	s.blocksGenerated(SourceEpoch, blocks)
	return nil
}

func (s *Supervisor) generate(ctx context.Context, n uint64, source string) error {
	cell, err := s.resolve()
	if err != nil {
		return err
	}
	if err := s.client.GenerateBlocks(ctx, cell.opts.ServerPort(), n); err != nil {
		return err
	}
	s.blocksGenerated(source, n)
	return nil
}

// InitialWallets returns the accounts funded at genesis.
func (s *Supervisor) InitialWallets(ctx context.Context) (*rpc.InitialWallets, error) {
	cell, err := s.resolve()
	if err != nil {
		return nil, err
	}
	return s.client.InitialWallets(ctx, cell.opts.ServerPort())
}

// SetAddressKeys overwrites storage keys of address.
func (s *Supervisor) SetAddressKeys(ctx context.Context, address string, keys map[string]string) error {
	cell, err := s.resolve()
	if err != nil {
		return err
	}
	return s.client.SetAddressKeys(ctx, cell.opts.ServerPort(), address, keys)
}

// SetState applies sparse account overrides in one request.
func (s *Supervisor) SetState(ctx context.Context, entries []rpc.AccountState) error {
	cell, err := s.resolve()
	if err != nil {
		return err
	}
	return s.client.SetState(ctx, cell.opts.ServerPort(), entries)
}
