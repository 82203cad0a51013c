/*
Package rules implements the routing rule engine.

Rules are evaluated per transaction in ascending priority order; the first
rule whose condition tree holds supplies the routing directive. A directive
carries the routing target (pool or pinned account, or a block), plus any
adjustments the rule's action list accumulated before its terminal action:
surcharges, discounts, step-up requirements, review flags and annotations.
When no rule matches, the merchant's default pool is the target.

Evaluation never touches the database. Each merchant's active rules are
compiled into an immutable snapshot held in an atomically swapped cache;
rule writes invalidate the snapshot synchronously before the write returns
and broadcast the invalidation to other instances. A condition that cannot
be evaluated against a transaction counts as false and is logged; evaluation
errors never surface to callers.

Usage:

	svc := rules.NewService(ruleRepo, poolRepo, accountRepo, publisher, rules.Config{}, logger, metrics)

	// Route-time evaluation
	directive, err := svc.Evaluate(ctx, merchant, txc, time.Now())

	// Administration; every write validates and invalidates synchronously
	err = svc.Create(ctx, rule)
	err = svc.Update(ctx, rule)
	err = svc.Delete(ctx, merchantID, ruleID)

Error Handling:

Write operations return ErrInvalidRule (wrapping a ValidationError naming
the offending field) for malformed definitions. Evaluate returns an error
only for infrastructure failures such as an unreachable database during a
snapshot rebuild.
*/
package rules
