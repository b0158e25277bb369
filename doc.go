// Package tally provides the entitlement and usage metering core for
// OtimizaAds.
//
// Tally is designed as a library, not a service. Import it directly into
// your Go application and hand it a store. It provides:
//
//   - Plan registry with per-feature limits and an unlimited sentinel
//   - A subscription ledger kept in sync with the payment processor by a
//     two-phase webhook reconciler
//   - Atomic per-period usage counters that never lose concurrent counts
//   - A pure, fail-closed entitlement evaluator
//   - Append-only audit trail of every billing-relevant mutation
//   - Pluggable payment provider integration (Stripe built-in)
//
// # Quick Start
//
// Create a core with your preferred store:
//
//	import (
//	    tally "github.com/otimizaads/tally"
//	    "github.com/otimizaads/tally/store/memory"
//	)
//
//	core := tally.New(memory.New(), tally.WithFreePlan("free"))
//
//	if err := core.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer core.Stop()
//
// The sqlite and postgres stores wrap a *grove.DB handle
// (postgres.New(db)); in a forge application the extension package wires
// one in for you.
//
// # Core Concepts
//
// Plans define which features are available and at what monthly limits.
// A limit of -1 means unlimited; a feature absent from the plan is denied:
//
//	p := &plan.Plan{
//	    Name: "Basic",
//	    Slug: "basic",
//	    Features: map[plan.FeatureKey]int64{
//	        plan.FeatureGenerations: 50,
//	        plan.FeatureDiagnostics: 10,
//	    },
//	}
//
// Entitlement checks gate the billable action; usage is recorded after it
// succeeds:
//
//	d, err := core.Evaluate(ctx, userID, plan.FeatureGenerations)
//	if err == nil && d.CanUse {
//	    // run the generation
//	    core.Record(ctx, userID, plan.FeatureGenerations, 1)
//	}
//
// Subscription state is never written by application code. The reconciler
// applies verified processor webhooks asynchronously, and because every
// event carries a full snapshot applied last-write-wins, the ledger heals
// itself on redelivery.
//
// # Periods
//
// Usage counters reset monthly. The period is anchored to the first day of
// the current calendar month at midnight UTC, regardless of the user's
// subscription anniversary.
//
// All monetary amounts use integer arithmetic in the smallest currency
// unit (centavos for BRL, cents for USD).
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	plan_01h2xcejqtf2nbrexx3vqjhp41  // Plan ID
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	adt_01h455vb4pex5vsknk084sn02q   // Audit record ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package tally
