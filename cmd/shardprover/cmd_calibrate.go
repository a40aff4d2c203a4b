package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shardprover/internal/calibrate"
)

var (
	calCostPerHour     float64
	calUtilizationRate float64
	calProfitMargin    float64
	calPricePerUnit    float64
	calSinglePass      bool
)

// calibrateCmd measures pool throughput without a live network request
var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Measure pool throughput and recommend a bid",
	Long: `Runs synthetic proof requests through the production pipeline to
measure sustainable throughput. The sharded mode saturates every device
slot concurrently and prices from the slowest run; --single-pass proves one
request for a quick sanity check.`,
	RunE: runCalibrate,
}

func init() {
	calibrateCmd.Flags().Float64Var(&calCostPerHour, "cost-per-hour", 1.0, "instance operating cost per hour")
	calibrateCmd.Flags().Float64Var(&calUtilizationRate, "utilization-rate", 0.5, "expected fraction of time spent proving, in (0, 1]")
	calibrateCmd.Flags().Float64Var(&calProfitMargin, "profit-margin", 0.1, "target profit margin, in [0, 1)")
	calibrateCmd.Flags().Float64Var(&calPricePerUnit, "price-per-unit", 0, "currently configured per-cycle prove price, compared against the recommendation (0 = skip)")
	calibrateCmd.Flags().BoolVar(&calSinglePass, "single-pass", false, "run one request instead of saturating the pool")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	if calUtilizationRate <= 0 || calUtilizationRate > 1 {
		return fmt.Errorf("utilization-rate must be in (0, 1], got %g", calUtilizationRate)
	}
	if calProfitMargin < 0 || calProfitMargin >= 1 {
		return fmt.Errorf("profit-margin must be in [0, 1), got %g", calProfitMargin)
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	model := calibrate.EconomicModel{
		CostPerHour:     calCostPerHour,
		UtilizationRate: calUtilizationRate,
		ProfitMargin:    calProfitMargin,
	}

	var c calibrate.Calibrator
	if calSinglePass {
		c = calibrate.NewSinglePass(eng.orch, eng.cfg.Calibration, model)
	} else {
		c = calibrate.NewSharded(eng.orch, eng.pool, eng.cfg.Calibration, model)
	}

	metrics, err := c.Calibrate(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Print(calibrate.Report(metrics))
	if calPricePerUnit > 0 {
		if calPricePerUnit < metrics.RecommendedBidPrice {
			fmt.Printf("Configured price %.3e is below the recommended %.3e: proving at this rate runs below break-even plus margin\n",
				calPricePerUnit, metrics.RecommendedBidPrice)
		} else {
			fmt.Printf("Configured price %.3e covers the recommended %.3e\n",
				calPricePerUnit, metrics.RecommendedBidPrice)
		}
	}
	return nil
}
