package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

const (
	urlFlagName         = "url"
	callerFlagName      = "caller"
	timeoutFlagName     = "timeout"
	ownerFlagName       = "owner"
	amountFlagName      = "amount"
	durationFlagName    = "duration"
	splitFlagName       = "split"
	beneficiaryFlagName = "beneficiary"
	extraCyclesFlagName = "extra-cycles"
	recipientFlagName   = "recipient"
	gaugeFlagName       = "gauge"
	bpsFlagName         = "bps"
	epochFlagName       = "epoch"
	batchSizeFlagName   = "batch-size"

	defaultTimeout = 15 * time.Second
)

var (
	urlFlag = &cli.StringFlag{
		Name:  urlFlagName,
		Usage: "the url where to reach the lockd server",
	}
	callerFlag = &cli.StringFlag{
		Name:  callerFlagName,
		Usage: "the address the requests are made on behalf of",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  timeoutFlagName,
		Usage: "the timeout of every request made to the server",
	}
	ownerFlag = &cli.StringFlag{
		Name:     ownerFlagName,
		Usage:    "the address owning the positions",
		Required: true,
	}
	amountFlag = func(required bool) *cli.StringFlag {
		return &cli.StringFlag{
			Name:     amountFlagName,
			Usage:    "amount of base token in its smallest unit",
			Required: required,
		}
	}
	durationFlag = &cli.UintFlag{
		Name:     durationFlagName,
		Usage:    "lock duration in cycles",
		Required: true,
	}
	splitFlag = &cli.UintFlag{
		Name:  splitFlagName,
		Usage: "percent of the position directed to yield, the rest goes to bonus",
		Value: 100,
	}
	beneficiaryFlag = &cli.StringFlag{
		Name:  beneficiaryFlagName,
		Usage: "owner of the new position, defaults to the caller",
	}
	extraCyclesFlag = &cli.UintFlag{
		Name:  extraCyclesFlagName,
		Usage: "number of cycles to add to the lock",
	}
	recipientFlag = &cli.StringFlag{
		Name:  recipientFlagName,
		Usage: "address receiving the tokens, defaults to the caller",
	}
	gaugeFlag = &cli.Uint64Flag{
		Name:     gaugeFlagName,
		Usage:    "id of the gauge",
		Required: true,
	}
	bpsFlag = &cli.UintFlag{
		Name:     bpsFlagName,
		Usage:    "share of the vote weight in basis points",
		Required: true,
	}
	epochFlag = &cli.UintFlag{
		Name:     epochFlagName,
		Usage:    "the reward epoch",
		Required: true,
	}
	batchSizeFlag = &cli.IntFlag{
		Name:  batchSizeFlagName,
		Usage: "number of gauges processed per stage call, 0 for the server default",
	}
)
