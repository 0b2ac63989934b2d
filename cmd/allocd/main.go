package main

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clearledger/go-allocations/db/badgerdb"
	"github.com/clearledger/go-allocations/identity"
	"github.com/clearledger/go-allocations/ledger"
	"github.com/clearledger/go-allocations/transfer"
	"github.com/clearledger/go-allocations/types"
)

const (
	flagConfig  = "config"
	flagDbDir   = "dbDir"
	flagClient  = "client"
	flagShareID = "shareId"
	flagAsset   = "asset"
	flagAmount  = "amount"
	flagBps     = "bps"
)

func main() {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:   "allocd",
		Short: "balance share allocation ledger",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			err := viper.BindPFlags(cmd.Flags())
			if err != nil {
				return err
			}
			config := viper.GetString(flagConfig)
			if config == "" {
				return nil
			}
			viper.SetConfigFile(config)
			return viper.ReadInConfig()
		},
	}

	rootCmd.AddCommand(
		setBpsCommand(),
		quoteCommand(),
		allocateCommand(),
		allocateWithRemainderCommand(),
		totalCommand(),
	)

	rootCmd.PersistentFlags().String(flagConfig, "", "config path")
	rootCmd.PersistentFlags().String(flagDbDir, "allocd-db", "ledger db directory")
	rootCmd.PersistentFlags().String(flagClient, "", "client address")
	rootCmd.PersistentFlags().Int64(flagShareID, 0, "client-local share id")
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal().Err(err).Send()
	}
}

func openEngine() (*ledger.Engine, *transfer.Vault, types.LedgerKey, error) {
	database, err := badgerdb.NewDB(viper.GetString(flagDbDir))
	if err != nil {
		return nil, nil, types.LedgerKey{}, err
	}
	vault := transfer.NewVault()
	engine, err := ledger.NewEngine(database, vault)
	if err != nil {
		return nil, nil, types.LedgerKey{}, err
	}
	client := common.HexToAddress(viper.GetString(flagClient))
	key := identity.DeriveLedgerKey(client, big.NewInt(viper.GetInt64(flagShareID)))
	return engine, vault, key, nil
}

// stageDeposit makes amount pullable by the engine's transfer-in: native
// currency goes in as an attached payment for the exact amount, tokens
// as a funded balance.
func stageDeposit(vault *transfer.Vault, asset common.Address, depositor common.Address, amount *big.Int) {
	if asset == transfer.NativeAsset {
		if amount.Sign() > 0 {
			vault.AttachPayment(depositor, amount)
		}
		return
	}
	vault.Fund(asset, depositor, amount)
}

func setBpsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-bps",
		Short: "set the total weight on the active checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, key, err := openEngine()
			if err != nil {
				return err
			}
			bps := viper.GetUint64(flagBps)
			if err = engine.Store().SetTotalBps(key, bps); err != nil {
				return err
			}
			log.Info().Str("key", key.Hex()).Uint64("totalBps", bps).Msg("Total weight set")
			return nil
		},
	}
	cmd.Flags().Uint64(flagBps, 0, "total weight in basis points")
	return cmd
}

func quoteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "quote the share's cut of a delta, with remainder carry",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, key, err := openEngine()
			if err != nil {
				return err
			}
			asset := common.HexToAddress(viper.GetString(flagAsset))
			delta, ok := new(big.Int).SetString(viper.GetString(flagAmount), 10)
			if !ok {
				return ledger.ErrInvalidAllocationAmount
			}
			quote, err := engine.QuoteWithRemainder(key, asset, delta)
			if err != nil {
				return err
			}
			log.Info().
				Str("key", key.Hex()).
				Str("amountToAllocate", quote.AmountToAllocate.String()).
				Uint64("newRemainder", quote.NewRemainder).
				Bool("remainderIncreased", quote.RemainderIncreased).
				Msg("Quote")
			return nil
		},
	}
	cmd.Flags().String(flagAsset, "", "asset address")
	cmd.Flags().String(flagAmount, "0", "deposit delta")
	return cmd
}

func allocateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "record a fixed-amount deposit",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, vault, key, err := openEngine()
			if err != nil {
				return err
			}
			asset := common.HexToAddress(viper.GetString(flagAsset))
			depositor := common.HexToAddress(viper.GetString(flagClient))
			amount, ok := new(big.Int).SetString(viper.GetString(flagAmount), 10)
			if !ok {
				return ledger.ErrInvalidAllocationAmount
			}
			stageDeposit(vault, asset, depositor, amount)
			allocation, err := engine.Allocate(context.Background(), key, asset, depositor, amount)
			if err != nil {
				return err
			}
			log.Info().
				Str("key", key.Hex()).
				Str("amount", allocation.AmountAllocated.String()).
				Uint64("rollovers", allocation.Rollovers).
				Msg("Allocated")
			return nil
		},
	}
	cmd.Flags().String(flagAsset, "", "asset address")
	cmd.Flags().String(flagAmount, "0", "amount to allocate")
	return cmd
}

func allocateWithRemainderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allocate-remainder",
		Short: "record a remainder-tracked deposit of the share's cut of a delta",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, vault, key, err := openEngine()
			if err != nil {
				return err
			}
			asset := common.HexToAddress(viper.GetString(flagAsset))
			depositor := common.HexToAddress(viper.GetString(flagClient))
			delta, ok := new(big.Int).SetString(viper.GetString(flagAmount), 10)
			if !ok {
				return ledger.ErrInvalidAllocationAmount
			}
			// the engine pulls the quoted cut, not the delta, so quote
			// first to stage the exact amount
			quote, err := engine.QuoteWithRemainder(key, asset, delta)
			if err != nil {
				return err
			}
			stageDeposit(vault, asset, depositor, quote.AmountToAllocate)
			allocation, err := engine.AllocateWithRemainder(context.Background(), key, asset, depositor, delta)
			if err != nil {
				return err
			}
			if allocation == nil {
				log.Info().Str("key", key.Hex()).Msg("Nothing to allocate")
				return nil
			}
			log.Info().
				Str("key", key.Hex()).
				Str("amount", allocation.AmountAllocated.String()).
				Uint64("newRemainder", allocation.NewRemainder.Uint64()).
				Uint64("rollovers", allocation.Rollovers).
				Msg("Allocated")
			return nil
		},
	}
	cmd.Flags().String(flagAsset, "", "asset address")
	cmd.Flags().String(flagAmount, "0", "deposit delta")
	return cmd
}

func totalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "total",
		Short: "sum an asset's balances across all checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, key, err := openEngine()
			if err != nil {
				return err
			}
			asset := common.HexToAddress(viper.GetString(flagAsset))
			total, err := engine.Store().TotalBalance(key, asset)
			if err != nil {
				return err
			}
			log.Info().Str("key", key.Hex()).Str("total", total.String()).Msg("Total balance")
			return nil
		},
	}
	cmd.Flags().String(flagAsset, "", "asset address")
	return cmd
}
