package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
)

var clientFlags = []cli.Flag{urlFlag, callerFlag, timeoutFlag}

func withClientFlags(flags ...cli.Flag) []cli.Flag {
	return append(append([]cli.Flag{}, clientFlags...), flags...)
}

var (
	toFlag = &cli.StringFlag{
		Name:     "to",
		Usage:    "the new owner of the position",
		Required: true,
	}
	delegateFlag = &cli.StringFlag{
		Name:     "delegate",
		Usage:    "the address allowed to vote with the position",
		Required: true,
	}
	revokeFlag = &cli.BoolFlag{
		Name:  "revoke",
		Usage: "remove the delegate instead of adding it",
	}
	positionFlag = &cli.Uint64Flag{
		Name:     "position",
		Usage:    "id of the position",
		Required: true,
	}
	epochsFlag = &cli.StringFlag{
		Name:     "epochs",
		Usage:    "comma separated list of reward epochs",
		Required: true,
	}
	atFlag = &cli.UintFlag{
		Name:  "at",
		Usage: "the cycle at which the value is computed, defaults to the current one",
	}
	cycleFlag = &cli.UintFlag{
		Name:     "cycle",
		Usage:    "the cycle at which the vote weight is computed",
		Required: true,
	}
	tokensFlag = &cli.StringSliceFlag{
		Name:     "token",
		Usage:    "reward token address, paired by position with --amount",
		Required: true,
	}
	tokenAmountsFlag = &cli.StringSliceFlag{
		Name:     amountFlagName,
		Usage:    "amount of the reward token, paired by position with --token",
		Required: true,
	}
)

var infoCmd = &cli.Command{
	Name:   "info",
	Usage:  "Get the current cycle, totals and distribution status",
	Flags:  clientFlags,
	Action: printResponse(func(*cli.Context) string { return "/v1/info" }),
}

var totalsCmd = &cli.Command{
	Name:  "totals",
	Usage: "Get the global vote weight, yield share and bonus totals",
	Flags: withClientFlags(atFlag),
	Action: printResponse(func(ctx *cli.Context) string {
		return withCycle("/v1/totals", ctx)
	}),
}

var positionCmd = &cli.Command{
	Name:  "position",
	Usage: "Open, inspect and manage locked positions",
	Subcommands: cli.Commands{
		{
			Name:   "open",
			Usage:  "Lock base tokens into a new position",
			Flags:  withClientFlags(amountFlag(true), durationFlag, splitFlag, beneficiaryFlag),
			Action: openPositionAction,
		},
		{
			Name:      "get",
			Usage:     "Get a position with its current weight and shares",
			ArgsUsage: "<id>",
			Flags:     clientFlags,
			Action: printResponse(func(ctx *cli.Context) string {
				return "/v1/positions/" + ctx.Args().First()
			}),
		},
		{
			Name:  "list",
			Usage: "List the ids of the positions of an owner",
			Flags: withClientFlags(ownerFlag),
			Action: printResponse(func(ctx *cli.Context) string {
				return "/v1/positions?owner=" + url.QueryEscape(ctx.String(ownerFlagName))
			}),
		},
		{
			Name:      "vote-weight",
			Usage:     "Get the vote weight of a position",
			ArgsUsage: "<id>",
			Flags:     withClientFlags(cycleFlag),
			Action: printResponse(func(ctx *cli.Context) string {
				return fmt.Sprintf(
					"/v1/positions/%s/vote-weight?cycle=%d",
					ctx.Args().First(), ctx.Uint(cycleFlag.Name),
				)
			}),
		},
		{
			Name:      "increase",
			Usage:     "Add tokens or cycles to a position",
			ArgsUsage: "<id>",
			Flags:     withClientFlags(amountFlag(false), extraCyclesFlag),
			Action:    increasePositionAction,
		},
		{
			Name:      "close",
			Usage:     "Withdraw the tokens of an expired position",
			ArgsUsage: "<id>",
			Flags:     clientFlags,
			Action: func(ctx *cli.Context) error {
				id, err := idArg(ctx)
				if err != nil {
					return err
				}
				return postAndPrint(ctx, fmt.Sprintf("/v1/positions/%d/close", id), nil)
			},
		},
		{
			Name:      "transfer",
			Usage:     "Transfer a position to a new owner",
			ArgsUsage: "<id>",
			Flags:     withClientFlags(toFlag),
			Action: func(ctx *cli.Context) error {
				id, err := idArg(ctx)
				if err != nil {
					return err
				}
				return postAndPrint(
					ctx, fmt.Sprintf("/v1/positions/%d/transfer", id),
					map[string]any{"to": ctx.String(toFlag.Name)},
				)
			},
		},
		{
			Name:      "delegate",
			Usage:     "Add or revoke a vote delegate of a position",
			ArgsUsage: "<id>",
			Flags:     withClientFlags(delegateFlag, revokeFlag),
			Action: func(ctx *cli.Context) error {
				id, err := idArg(ctx)
				if err != nil {
					return err
				}
				return postAndPrint(
					ctx, fmt.Sprintf("/v1/positions/%d/delegates", id),
					map[string]any{
						"delegate": ctx.String(delegateFlag.Name),
						"revoke":   ctx.Bool(revokeFlag.Name),
					},
				)
			},
		},
		{
			Name:      "claimable",
			Usage:     "Get the rewards a position can claim for the given epochs",
			ArgsUsage: "<id>",
			Flags:     withClientFlags(epochsFlag),
			Action: printResponse(func(ctx *cli.Context) string {
				return fmt.Sprintf(
					"/v1/positions/%s/claimable?epochs=%s",
					ctx.Args().First(), url.QueryEscape(ctx.String(epochsFlag.Name)),
				)
			}),
		},
	},
}

var gaugeCmd = &cli.Command{
	Name:  "gauge",
	Usage: "Inspect gauges and vote on them",
	Subcommands: cli.Commands{
		{
			Name:  "list",
			Usage: "List all gauges with their weights",
			Flags: withClientFlags(atFlag),
			Action: printResponse(func(ctx *cli.Context) string {
				return withCycle("/v1/gauges", ctx)
			}),
		},
		{
			Name:      "get",
			Usage:     "Get a gauge with its weights",
			ArgsUsage: "<id>",
			Flags:     withClientFlags(atFlag),
			Action: printResponse(func(ctx *cli.Context) string {
				return withCycle("/v1/gauges/"+ctx.Args().First(), ctx)
			}),
		},
		{
			Name:  "vote",
			Usage: "Allocate part of the vote weight of a position to a gauge",
			Flags: withClientFlags(positionFlag, gaugeFlag, bpsFlag),
			Action: func(ctx *cli.Context) error {
				return postAndPrint(ctx, "/v1/votes", map[string]any{
					"position_id": ctx.Uint64(positionFlag.Name),
					"gauge_id":    ctx.Uint64(gaugeFlagName),
					"bps":         ctx.Uint(bpsFlagName),
				})
			},
		},
		{
			Name:   "classes",
			Usage:  "List the gauge classes",
			Flags:  clientFlags,
			Action: printResponse(func(*cli.Context) string { return "/v1/classes" }),
		},
	},
}

var distributionCmd = &cli.Command{
	Name:  "distribution",
	Usage: "Drive the emission distribution of a cycle",
	Subcommands: cli.Commands{
		{
			Name:   "status",
			Usage:  "Get the stage of the current distribution pass",
			Flags:  clientFlags,
			Action: printResponse(func(*cli.Context) string { return "/v1/distribution" }),
		},
		{
			Name:  "trigger",
			Usage: "Advance the cycle and start a distribution pass",
			Flags: clientFlags,
			Action: func(ctx *cli.Context) error {
				return postAndPrint(ctx, "/v1/distribution/trigger", nil)
			},
		},
		{
			Name:  "step",
			Usage: "Run one batch of the current stage",
			Flags: withClientFlags(batchSizeFlag),
			Action: func(ctx *cli.Context) error {
				status, err := get[map[string]any](newClient(ctx), "/v1/distribution")
				if err != nil {
					return err
				}
				path, ok := stagePaths[fmt.Sprint(status["stage"])]
				if !ok {
					return fmt.Errorf("no batch to run at stage %v", status["stage"])
				}
				return postAndPrint(ctx, path, map[string]any{
					"batch_size": ctx.Int(batchSizeFlagName),
				})
			},
		},
		{
			Name:  "run",
			Usage: "Trigger and complete a whole distribution pass",
			Flags: clientFlags,
			Action: func(ctx *cli.Context) error {
				return postAndPrint(ctx, "/v1/distribution/run", nil)
			},
		},
	},
}

var stagePaths = map[string]string{
	"checkpoint":   "/v1/distribution/checkpoint",
	"total_weight": "/v1/distribution/total-weight",
	"distribute":   "/v1/distribution/distribute",
}

var rewardsCmd = &cli.Command{
	Name:  "rewards",
	Usage: "Deposit and claim epoch rewards",
	Subcommands: cli.Commands{
		{
			Name:      "epoch",
			Usage:     "Get the deposits and remaining balances of a reward epoch",
			ArgsUsage: "<epoch>",
			Flags:     clientFlags,
			Action: printResponse(func(ctx *cli.Context) string {
				return "/v1/epochs/" + ctx.Args().First()
			}),
		},
		{
			Name:   "deposit",
			Usage:  "Deposit reward tokens for the current epoch",
			Flags:  withClientFlags(tokensFlag, tokenAmountsFlag),
			Action: depositAction,
		},
		{
			Name:  "claim",
			Usage: "Claim the rewards of a position for a closed epoch",
			Flags: withClientFlags(positionFlag, epochFlag, recipientFlag),
			Action: func(ctx *cli.Context) error {
				return postAndPrint(ctx, "/v1/rewards/claim", map[string]any{
					"position_id": ctx.Uint64(positionFlag.Name),
					"epoch":       ctx.Uint(epochFlagName),
					"recipient":   ctx.String(recipientFlagName),
				})
			},
		},
	},
}

func openPositionAction(ctx *cli.Context) error {
	return postAndPrint(ctx, "/v1/positions", map[string]any{
		"amount":              ctx.String(amountFlagName),
		"duration_cycles":     ctx.Uint(durationFlagName),
		"yield_split_percent": ctx.Uint(splitFlagName),
		"beneficiary":         ctx.String(beneficiaryFlagName),
	})
}

func increasePositionAction(ctx *cli.Context) error {
	id, err := idArg(ctx)
	if err != nil {
		return err
	}
	if !ctx.IsSet(amountFlagName) && !ctx.IsSet(extraCyclesFlagName) {
		return fmt.Errorf("either --%s or --%s must be set", amountFlagName, extraCyclesFlagName)
	}
	return postAndPrint(ctx, fmt.Sprintf("/v1/positions/%d/increase", id), map[string]any{
		"amount":       ctx.String(amountFlagName),
		"extra_cycles": ctx.Uint(extraCyclesFlagName),
	})
}

func depositAction(ctx *cli.Context) error {
	tokens := ctx.StringSlice(tokensFlag.Name)
	amounts := ctx.StringSlice(tokenAmountsFlag.Name)
	if len(tokens) != len(amounts) {
		return fmt.Errorf("got %d tokens and %d amounts", len(tokens), len(amounts))
	}
	list := make([]map[string]string, 0, len(tokens))
	for i, token := range tokens {
		list = append(list, map[string]string{"token": token, "amount": amounts[i]})
	}
	return postAndPrint(ctx, "/v1/rewards/deposit", map[string]any{"tokens": list})
}

func idArg(ctx *cli.Context) (uint64, error) {
	arg := strings.TrimSpace(ctx.Args().First())
	if arg == "" {
		return 0, fmt.Errorf("missing id argument")
	}
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func withCycle(path string, ctx *cli.Context) string {
	if !ctx.IsSet(atFlag.Name) {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sat=%d", path, sep, ctx.Uint(atFlag.Name))
}
