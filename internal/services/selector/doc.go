/*
Package selector picks one merchant account from a pool for each transaction.

Selection runs in two phases. Filtering first drops every account that must
not take the transaction: disabled memberships, inactive accounts, accounts
excluded by the current failover loop, accounts the health tracker holds in
a degraded cooldown, accounts whose routing restrictions reject the
transaction's country, currency, brand or category, and accounts without
usage-ledger headroom for the amount. The pool's configured strategy then
picks among the survivors:

  - weighted: random draw proportional to membership weight
  - round_robin: pool-scoped rotating cursor
  - capacity: most remaining volume headroom
  - lowest_cost: cheapest effective fee for this amount and brand
  - least_load: fewest transactions currently in flight
  - highest_success: best tracked success rate, with a sample-size guard

Every strategy except weighted is deterministic for identical inputs.

The chosen account is claimed before it is returned: a usage-ledger
reservation and an in-flight token are acquired and travel on the Selection
for the caller to settle at terminal outcome. A reservation lost to a
concurrent transaction drops that candidate and the strategy re-picks from
the remainder. Under Options.Simulate nothing is claimed, no cursor moves
and the returned Selection carries no tokens.

Pool definitions are served from immutable snapshots invalidated on pool
writes and refreshed after a TTL, so selection itself performs no database
reads on the hot path.
*/
package selector
