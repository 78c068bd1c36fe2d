package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrCollection  = attribute.Key("store.collection")
	AttrStoreOp     = attribute.Key("store.op")
	AttrRecordCount = attribute.Key("store.records")
	AttrTopK        = attribute.Key("store.top_k")
	AttrFilterCount = attribute.Key("store.filters")

	AttrSource      = attribute.Key("index.source")
	AttrSearchMode  = attribute.Key("index.search.mode")
	AttrResultCount = attribute.Key("index.search.results")
	AttrStatus      = attribute.Key("status")
)
