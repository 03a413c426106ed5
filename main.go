package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voxkit/callflow/agent/casedb"
	contractx "github.com/voxkit/callflow/agent/contract"
	enginex "github.com/voxkit/callflow/agent/engine"
	"github.com/voxkit/callflow/agent/flows/fraud"
	"github.com/voxkit/callflow/agent/flows/lead"
	"github.com/voxkit/callflow/agent/flows/order"
	runtimex "github.com/voxkit/callflow/agent/runtime"
	"github.com/voxkit/callflow/agent/sink"
	statex "github.com/voxkit/callflow/agent/state"
	toolx "github.com/voxkit/callflow/agent/tool"
	configx "github.com/voxkit/callflow/pkg/config"
	logx "github.com/voxkit/callflow/pkg/logger"
	openrouterx "github.com/voxkit/callflow/pkg/openrouter"
	qstashx "github.com/voxkit/callflow/pkg/qstash"
)

type AppConfig struct {
	CaseDSN     string        `envconfig:"CASE_DSN" default:"file:callflow?mode=memory&cache=shared"`
	LeadDir     string        `envconfig:"LEAD_DIR" default:"data/leads"`
	OrderDir    string        `envconfig:"ORDER_DIR" default:"data/orders"`
	SessionIdle time.Duration `envconfig:"SESSION_IDLE" default:"30m"`
	SweepEvery  time.Duration `envconfig:"SWEEP_EVERY" default:"5m"`

	// LiveFlow picks which flow answers when the binary runs against a real
	// model (OPENROUTER_API_KEY set).
	LiveFlow string `envconfig:"LIVE_FLOW" default:"order"`
}

func main() {
	logCfg := configx.MustNew[logx.Config]("LOG")
	logx.Init(*logCfg)

	appCfg := configx.MustNew[AppConfig]("")
	ctx := context.Background()

	cases, err := casedb.Open(appCfg.CaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open case database")
	}
	defer cases.Close()
	if err := cases.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("init case database")
	}

	var sinkOpts []sink.Option
	if os.Getenv("QSTASH_URL") != "" {
		qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
		sinkOpts = append(sinkOpts, sink.WithNotifier(qstashx.MustNew(*qstashCfg)))
		log.Info().Msg("qstash handoff enabled")
	}

	store := sessionStore()

	fraudEngine := mustEngine(store, fraud.NewRegistry(cases, sink.NewCaseSink(cases, sinkOpts...), nil))
	leadEngine := mustEngine(store, lead.NewRegistry(lead.MustLoadCompanyData(), sink.NewLeadSink(appCfg.LeadDir, sinkOpts...), nil))
	orderEngine := mustEngine(store, order.NewRegistry(order.DefaultCatalog(), sink.NewOrderSink(appCfg.OrderDir, sinkOpts...), nil))

	stopSweeper := startSweeper(ctx, fraudEngine, appCfg.SweepEvery, appCfg.SessionIdle)
	defer stopSweeper()

	if os.Getenv("OPENROUTER_API_KEY") != "" {
		engines := map[contractx.FlowType]*enginex.Engine{
			contractx.FlowFraud: fraudEngine,
			contractx.FlowLead:  leadEngine,
			contractx.FlowOrder: orderEngine,
		}
		runLive(ctx, appCfg.LiveFlow, engines)
		return
	}

	runFraudDemos(ctx, fraudEngine, cases)
	runLeadDemo(ctx, leadEngine)
	runOrderDemo(ctx, orderEngine)
}

// sessionStore picks Upstash Redis when configured and falls back to the
// in-process store.
func sessionStore() statex.Store {
	if os.Getenv("UPSTASH_REDIS_URL") == "" {
		return statex.NewMemoryStore()
	}
	cfg := configx.MustNew[statex.UpstashRedisConfig]("")
	store, err := statex.NewUpstashRedisStore(*cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init upstash session store")
	}
	log.Info().Msg("session store: upstash redis")
	return store
}

func mustEngine(store statex.Store, registry *toolx.Registry) *enginex.Engine {
	e, err := enginex.New(store, registry)
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}
	return e
}

// startSweeper drops sessions idle past the window on a fixed cadence. All
// engines share one store, so sweeping through any engine covers them all.
func startSweeper(ctx context.Context, e *enginex.Engine, every, idleFor time.Duration) func() {
	ticker := time.NewTicker(every)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := e.Sweep(ctx, idleFor); err != nil {
					log.Warn().Err(err).Msg("session sweep failed")
				}
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

/* ----- scripted demos ----- */

// demoTurn is one exchange from the original scripted walkthroughs: what the
// caller said, and the tool call the agent makes in response. Agent-driven
// steps leave caller empty.
type demoTurn struct {
	caller string
	tool   string
	args   contractx.ToolArgs
}

func runScript(ctx context.Context, e *enginex.Engine, sessionID string, turns []demoTurn) {
	for _, turn := range turns {
		if turn.caller != "" {
			fmt.Printf("caller> %s\n", turn.caller)
		}
		resp, err := e.Handle(ctx, enginex.Request{SessionID: sessionID, Tool: turn.tool, Args: turn.args})
		if err != nil {
			log.Error().Err(err).Str("tool", turn.tool).Str("session_id", sessionID).Msg("demo turn failed")
			return
		}
		fmt.Printf("agent> %s\n", resp.Speech)
	}
}

func banner(title string) {
	fmt.Printf("\n=== %s ===\n", title)
}

func runFraudDemos(ctx context.Context, e *enginex.Engine, cases *casedb.Store) {
	banner("fraud alert: John recognizes the charge")
	runScript(ctx, e, "demo-fraud-john", []demoTurn{
		{caller: "Hello? Who is this?", tool: fraud.ToolLoadCase, args: contractx.ToolArgs{"customer_name": "John"}},
		{tool: fraud.ToolSecurityQuestion, args: contractx.ToolArgs{}},
		{caller: "It's Smith.", tool: fraud.ToolVerifyCustomer, args: contractx.ToolArgs{"answer": "Smith"}},
		{tool: fraud.ToolTransactionDetails, args: contractx.ToolArgs{}},
		{caller: "Oh right, that was me.", tool: fraud.ToolConfirmTransaction, args: contractx.ToolArgs{"made_purchase": true}},
	})

	banner("fraud alert: Sarah disputes the charge")
	runScript(ctx, e, "demo-fraud-sarah", []demoTurn{
		{caller: "This is Sarah, you called about my card?", tool: fraud.ToolLoadCase, args: contractx.ToolArgs{"customer_name": "Sarah"}},
		{tool: fraud.ToolSecurityQuestion, args: contractx.ToolArgs{}},
		{caller: "Fluffy.", tool: fraud.ToolVerifyCustomer, args: contractx.ToolArgs{"answer": "Fluffy"}},
		{tool: fraud.ToolTransactionDetails, args: contractx.ToolArgs{}},
		{caller: "I never bought anything in Paris!", tool: fraud.ToolConfirmTransaction, args: contractx.ToolArgs{"made_purchase": false}},
	})

	banner("fraud alert: Mike fails verification")
	runScript(ctx, e, "demo-fraud-mike", []demoTurn{
		{caller: "Mike speaking.", tool: fraud.ToolLoadCase, args: contractx.ToolArgs{"customer_name": "Mike"}},
		{tool: fraud.ToolSecurityQuestion, args: contractx.ToolArgs{}},
		{caller: "Uh... New York?", tool: fraud.ToolVerifyCustomer, args: contractx.ToolArgs{"answer": "New York"}},
		// The call is over; a late detail request only replays the refusal.
		{caller: "Wait, what was the transaction?", tool: fraud.ToolTransactionDetails, args: contractx.ToolArgs{}},
	})

	list, err := cases.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list cases")
		return
	}
	fmt.Println("\ncase review queue:")
	for _, fc := range list {
		blocked := ""
		if fc.CardBlocked {
			blocked = " [card blocked]"
		}
		fmt.Printf("  #%d %-6s %-18s $%.2f %s%s\n", fc.ID, fc.UserName, fc.CaseStatus, fc.TransactionAmount, fc.TransactionName, blocked)
	}
}

func runLeadDemo(ctx context.Context, e *enginex.Engine) {
	banner("sales lead: Kavya from StyleHub")
	runScript(ctx, e, "demo-lead-kavya", []demoTurn{
		{caller: "Hi, I'm looking for a payment solution for my online business.", tool: lead.ToolCollectLeadInfo, args: contractx.ToolArgs{"field": "use_case", "value": "payment solution for online business"}},
		{caller: "I'm Kavya and I run an online clothing store called StyleHub.", tool: lead.ToolCollectLeadInfo, args: contractx.ToolArgs{"field": "name", "value": "Kavya"}},
		{tool: lead.ToolCollectLeadInfo, args: contractx.ToolArgs{"field": "company", "value": "StyleHub"}},
		{caller: "Do you support UPI and other payment methods?", tool: lead.ToolAnswerQuestion, args: contractx.ToolArgs{"question": "what payment methods do you support"}},
		{caller: "What about pricing? How much do you charge?", tool: lead.ToolAnswerQuestion, args: contractx.ToolArgs{"question": "what are your fees and pricing"}},
		{caller: "My email is kavya@stylehub.in.", tool: lead.ToolCollectLeadInfo, args: contractx.ToolArgs{"field": "email", "value": "kavya@stylehub.in"}},
		{caller: "I'm the founder and CEO.", tool: lead.ToolCollectLeadInfo, args: contractx.ToolArgs{"field": "role", "value": "Founder and CEO"}},
		{caller: "We're a team of 6 people right now.", tool: lead.ToolCollectLeadInfo, args: contractx.ToolArgs{"field": "team_size", "value": "6 people"}},
		{caller: "We'd like to get this set up within the next month.", tool: lead.ToolCollectLeadInfo, args: contractx.ToolArgs{"field": "timeline", "value": "within the next month"}},
		{tool: lead.ToolQualificationStatus, args: contractx.ToolArgs{}},
		{caller: "That's all my questions for now, thanks!", tool: lead.ToolCallSummary, args: contractx.ToolArgs{}},
	})
}

func runOrderDemo(ctx context.Context, e *enginex.Engine) {
	banner("grocery order: milk and bread")
	runScript(ctx, e, "demo-order-milkbread", []demoTurn{
		{caller: "I'd like a whole milk, please.", tool: order.ToolAddItem, args: contractx.ToolArgs{"item_id": "milk_whole", "quantity": 1}},
		{caller: "And two loaves of whole wheat bread.", tool: order.ToolAddItem, args: contractx.ToolArgs{"item_id": "bread_whole_wheat", "quantity": 2}},
		{caller: "What's my total?", tool: order.ToolViewCart, args: contractx.ToolArgs{}},
		{caller: "That's everything. I'm Dana, at 12 Elm Street.", tool: order.ToolPlaceOrder, args: contractx.ToolArgs{"customer_name": "Dana", "customer_address": "12 Elm Street"}},
	})
}

/* ----- live LLM mode ----- */

// runLive answers a real conversation over stdin with the configured model,
// one line per caller turn.
func runLive(ctx context.Context, flowName string, engines map[contractx.FlowType]*enginex.Engine) {
	flow := contractx.FlowType(strings.ToLower(strings.TrimSpace(flowName)))
	e, ok := engines[flow]
	if !ok {
		log.Fatal().Str("flow", flowName).Msg("unknown live flow")
	}

	llmCfg := configx.MustNew[runtimex.Config]("OPENROUTER")

	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := openrouterx.Ping(pingCtx, llmCfg.OpenRouterFor(flow)); err != nil {
		log.Fatal().Err(err).Msg("openrouter preflight failed")
	}

	conv, err := runtimex.Dial(ctx, e, *llmCfg, uuid.NewString())
	if err != nil {
		log.Fatal().Err(err).Msg("dial model")
	}

	fmt.Printf("live %s call, ctrl-d to hang up\n", flow)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("caller> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		reply, err := conv.Say(ctx, text)
		if err != nil {
			log.Error().Err(err).Msg("turn failed")
			continue
		}
		fmt.Printf("agent> %s\n", reply)

		if conv.Closed() {
			fmt.Println("call complete")
			break
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("read stdin")
	}
}
