package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/rjenkins/airmarket/internal/config"
	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/pkg/logger"
)

const systemPrompt = `You are an airline market analyst. You receive a JSON brief of
route-level price and demand data for the Australian air travel market.
Respond with ONLY a JSON array. Each element must have these fields:
  "title": short headline (max 80 chars)
  "text": one or two sentences of analysis
  "kind": one of "price_trend", "popular_route", "seasonal_pattern", "demand_forecast"
  "scope": a route key like "SYD-MEL", or "global"
  "confidence": number between 0 and 1
Base every claim strictly on the numbers in the brief. Do not invent routes or prices.`

// generatedByFallback marks insights produced without the model.
const generatedByFallback = "fallback"

var knownKinds = map[string]bool{
	market.InsightKindPriceTrend:     true,
	market.InsightKindPopularRoute:   true,
	market.InsightKindSeasonal:       true,
	market.InsightKindDemandForecast: true,
}

// Generator turns a market brief into persisted-ready insights. When
// the text generator fails or returns nothing usable, it falls back to
// deterministic template insights so the endpoint never goes dark.
type Generator struct {
	textGen TextGenerator
	cfg     config.InsightsConfig
	logger  *logger.Logger
}

// NewGenerator creates an insight generator. textGen may be nil, in
// which case every call produces fallback insights.
func NewGenerator(textGen TextGenerator, cfg config.InsightsConfig, log *logger.Logger) *Generator {
	return &Generator{
		textGen: textGen,
		cfg:     cfg,
		logger:  log.Named("insights"),
	}
}

// Generate produces insights for a brief. The returned slice is never
// empty as long as the brief has at least one route.
func (g *Generator) Generate(ctx context.Context, brief *MarketBrief) ([]*market.Insight, error) {
	if len(brief.Routes) == 0 {
		return nil, &market.InsightGenerationError{Reason: "brief contains no routes"}
	}

	supporting := supportingIDs(brief)

	if g.textGen != nil {
		insights, err := g.generateFromModel(ctx, brief, supporting)
		if err == nil && len(insights) > 0 {
			return insights, nil
		}
		if err != nil {
			g.logger.Warn("Model generation failed, using fallback insights", logger.Error(err))
		} else {
			g.logger.Warn("Model returned no usable insights, using fallback")
		}
	}

	return g.fallbackInsights(brief, supporting), nil
}

func (g *Generator) generateFromModel(ctx context.Context, brief *MarketBrief, supporting map[string][]int64) ([]*market.Insight, error) {
	briefJSON, err := json.MarshalIndent(brief, "", "  ")
	if err != nil {
		return nil, &market.InsightGenerationError{Reason: "failed to marshal brief", Err: err}
	}

	userInput := fmt.Sprintf("Market brief as of %s:\n%s", brief.GeneratedFor, string(briefJSON))
	raw, err := g.textGen.Complete(ctx, systemPrompt, userInput)
	if err != nil {
		return nil, err
	}

	drafts := parseDrafts(raw)
	if len(drafts) == 0 {
		return nil, &market.InsightGenerationError{Reason: "response contained no parseable insights"}
	}

	now := time.Now().UTC()
	insights := make([]*market.Insight, 0, len(drafts))
	for _, d := range drafts {
		insight, ok := g.validate(d, now, supporting)
		if !ok {
			continue
		}
		insights = append(insights, insight)
	}
	return insights, nil
}

// parseDrafts extracts insight drafts from raw model output. Models
// routinely wrap JSON in markdown code fences or an object envelope;
// both are tolerated.
func parseDrafts(raw string) []draftInsight {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	parsed := gjson.Parse(cleaned)
	arr := parsed
	if parsed.IsObject() {
		if inner := parsed.Get("insights"); inner.IsArray() {
			arr = inner
		}
	}
	if !arr.IsArray() {
		return nil
	}

	var drafts []draftInsight
	arr.ForEach(func(_, item gjson.Result) bool {
		drafts = append(drafts, draftInsight{
			Title:      item.Get("title").String(),
			Text:       item.Get("text").String(),
			Kind:       item.Get("kind").String(),
			Scope:      item.Get("scope").String(),
			Confidence: item.Get("confidence").Float(),
		})
		return true
	})
	return drafts
}

// validate turns a draft into a persistable insight, or rejects it.
func (g *Generator) validate(d draftInsight, now time.Time, supporting map[string][]int64) (*market.Insight, bool) {
	title := strings.TrimSpace(d.Title)
	text := strings.TrimSpace(d.Text)
	if title == "" || text == "" {
		g.logger.Debug("Dropping insight with empty title or text")
		return nil, false
	}
	text = truncateText(text, g.cfg.MaxTextLength)
	if !knownKinds[d.Kind] {
		g.logger.Debug("Dropping insight with unknown kind", logger.String("kind", d.Kind))
		return nil, false
	}

	confidence := d.Confidence
	if confidence > 1 {
		confidence = 1
	}
	if confidence < g.cfg.MinConfidence {
		g.logger.Debug("Dropping low-confidence insight",
			logger.String("title", title),
			logger.Float64("confidence", confidence))
		return nil, false
	}

	scope := strings.TrimSpace(d.Scope)
	if scope == "" {
		scope = market.InsightScopeGlobal
	}
	if scope != market.InsightScopeGlobal {
		route, err := market.ParseRouteKey(scope)
		if err != nil {
			scope = market.InsightScopeGlobal
		} else {
			scope = route.Key()
		}
	}

	return &market.Insight{
		ID:                   uuid.NewString(),
		GeneratedAt:          now,
		Scope:                scope,
		Title:                title,
		Text:                 text,
		Kind:                 d.Kind,
		Confidence:           confidence,
		GeneratedBy:          g.textGen.Name(),
		Fallback:             false,
		SupportingSummaryIDs: supporting[scope],
	}, true
}

// truncateText caps text at max bytes without splitting a UTF-8 rune.
func truncateText(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// fallbackInsights builds deterministic template insights straight from
// the brief. Same brief in, same text out.
// volatilityThreshold flags routes whose fare spread exceeds half the average fare.
var volatilityThreshold = decimal.NewFromFloat(0.5)

// fareSpreadRatio returns (max-min)/avg for a route, or zero when the
// brief's prices cannot be parsed or the average is zero.
func fareSpreadRatio(r RouteBrief) decimal.Decimal {
	min, err := decimal.NewFromString(r.MinPrice)
	if err != nil {
		return decimal.Zero
	}
	max, err := decimal.NewFromString(r.MaxPrice)
	if err != nil {
		return decimal.Zero
	}
	avg, err := decimal.NewFromString(r.AvgPrice)
	if err != nil || avg.IsZero() {
		return decimal.Zero
	}
	return max.Sub(min).Div(avg)
}

func (g *Generator) fallbackInsights(brief *MarketBrief, supporting map[string][]int64) []*market.Insight {
	now := time.Now().UTC()
	var insights []*market.Insight

	add := func(scope, title, text, kind string, confidence float64) {
		insights = append(insights, &market.Insight{
			ID:                   uuid.NewString(),
			GeneratedAt:          now,
			Scope:                scope,
			Title:                title,
			Text:                 text,
			Kind:                 kind,
			Confidence:           confidence,
			GeneratedBy:          generatedByFallback,
			Fallback:             true,
			SupportingSummaryIDs: supporting[scope],
		})
	}

	for _, r := range brief.Routes {
		switch r.PriceTrend {
		case market.TrendUp:
			add(r.Route,
				fmt.Sprintf("Fares rising on %s", r.Route),
				fmt.Sprintf("Average fares on %s climbed to %s across %d flights in the latest window.", r.Route, r.AvgPrice, r.FlightCount),
				market.InsightKindPriceTrend, 0.7)
		case market.TrendDown:
			add(r.Route,
				fmt.Sprintf("Fares falling on %s", r.Route),
				fmt.Sprintf("Average fares on %s dropped to %s across %d flights in the latest window.", r.Route, r.AvgPrice, r.FlightCount),
				market.InsightKindPriceTrend, 0.7)
		}
		if fareSpreadRatio(r).GreaterThan(volatilityThreshold) {
			add(r.Route,
				fmt.Sprintf("Volatile fares on %s", r.Route),
				fmt.Sprintf("Fares on %s spread from %s to %s against an average of %s, so timing the booking matters.", r.Route, r.MinPrice, r.MaxPrice, r.AvgPrice),
				market.InsightKindPriceTrend, 0.6)
		}
		if r.DemandLevel == market.DemandHigh {
			add(r.Route,
				fmt.Sprintf("High demand on %s", r.Route),
				fmt.Sprintf("%s shows high demand with %d flights in the latest window; fares range %s to %s.", r.Route, r.FlightCount, r.MinPrice, r.MaxPrice),
				market.InsightKindDemandForecast, 0.65)
		}
	}

	// The brief is ranked, so the first route is the busiest.
	top := brief.Routes[0]
	add(market.InsightScopeGlobal,
		fmt.Sprintf("%s leads route activity", top.Route),
		fmt.Sprintf("%s is the most active corridor with %d flights at an average fare of %s, out of %d observations market-wide.", top.Route, top.FlightCount, top.AvgPrice, brief.TotalObservations),
		market.InsightKindPopularRoute, 0.8)

	return insights
}

func supportingIDs(brief *MarketBrief) map[string][]int64 {
	out := make(map[string][]int64, len(brief.Routes)+1)
	var all []int64
	for _, r := range brief.Routes {
		if r.SummaryID != 0 {
			out[r.Route] = []int64{r.SummaryID}
			all = append(all, r.SummaryID)
		}
	}
	out[market.InsightScopeGlobal] = all
	return out
}
