package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanResolve       = "finder.resolve"
	SpanFetch         = "finder.fetch"
	SpanExchange      = "dbserver.exchange"
	SpanConnect       = "dbserver.connect"
	SpanArchiveLookup = "archive.lookup"
)

// Attribute keys.
const (
	AttrPlayer    = attribute.Key("djlink.player")
	AttrSlot      = attribute.Key("djlink.slot")
	AttrContentID = attribute.Key("djlink.content_id")
	AttrKind      = attribute.Key("finder.kind")
	AttrSource    = attribute.Key("finder.source")
	AttrPassive   = attribute.Key("finder.passive")
	AttrRequest   = attribute.Key("dbserver.request")
	AttrArchive   = attribute.Key("archive.backend")
)

// Player returns a player attribute.
func Player(id int) attribute.KeyValue { return AttrPlayer.Int(id) }

// Slot returns a media slot attribute.
func Slot(s string) attribute.KeyValue { return AttrSlot.String(s) }

// ContentID returns a content id attribute.
func ContentID(id uint32) attribute.KeyValue { return AttrContentID.Int64(int64(id)) }

// Kind returns a resource kind attribute.
func Kind(k string) attribute.KeyValue { return AttrKind.String(k) }

// Source returns the tier that answered a resolution.
func Source(s string) attribute.KeyValue { return AttrSource.String(s) }

// StartResolveSpan starts a span for one resolution through the cache tiers.
func StartResolveSpan(ctx context.Context, kind string, player int, slot string, id uint32, passive bool) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanResolve, trace.WithAttributes(
		Kind(kind), Player(player), Slot(slot), ContentID(id), AttrPassive.Bool(passive),
	))
}

// StartFetchSpan starts a span for a network fetch of one resource.
func StartFetchSpan(ctx context.Context, kind string, player int, slot string, id uint32) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanFetch, trace.WithAttributes(
		Kind(kind), Player(player), Slot(slot), ContentID(id),
	))
}

// StartExchangeSpan starts a span for one database service exchange.
func StartExchangeSpan(ctx context.Context, player int, request string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanExchange,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(Player(player), AttrRequest.String(request)),
	)
}

// StartArchiveSpan starts a span for an archive lookup.
func StartArchiveSpan(ctx context.Context, backend, kind string, id uint32) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanArchiveLookup, trace.WithAttributes(
		AttrArchive.String(backend), Kind(kind), ContentID(id),
	))
}

// StartConnectSpan starts a span for opening a database conversation.
func StartConnectSpan(ctx context.Context, player int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanConnect,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(Player(player)),
	)
}
