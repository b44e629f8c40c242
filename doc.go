// Package accounts manages the credential lifecycle of user accounts: signup
// with email verification, activation or rejection through single-use links,
// password reset, password and email changes, and session based login.
//
// Account lifecycle:
//   - Accounts start Pending when activation is required and move to Active
//     (activation link) or are removed (rejection link). AccountStateMachine
//     owns the transition graph and persists each move with a conditional
//     update so two concurrent redemptions cannot both succeed.
//   - Every mutation of an account and the consumption of the token that
//     authorized it happen in the same transaction. A failed transition leaves
//     the token redeemable.
//
// Verification tokens:
//   - TokenManager hands out URL safe random tokens and persists only their
//     SHA-256 digest through a TokenStore. Tokens carry a purpose, a payload and
//     an expiry, and are consumed with a conditional delete.
//   - SQL stores join the caller's transaction. Stores that cannot (DynamoDB)
//     get the consumed token written back when the transaction fails.
//
// Notifications and activity:
//   - Notifier delivery happens after commit. A delivery failure never rolls
//     back state; it is reported as a Warning on the operation result.
//   - ActivitySink receives audit events best-effort, errors are only logged.
package accounts
