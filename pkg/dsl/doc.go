/*
Package dsl provides a Go DSL for declaring espalier workflows in code.

It is an alternative to YAML workflow files, useful for tests, examples and
hosts that generate workflows dynamically.

Example usage:

	b := dsl.New()

	b.Workflow("create_invoice").
		Goal("Issue an invoice").
		Needs("customer", "customer_email").
		Prompt("Which customer is this invoice for? (email)").
		Validate("email").
		CreateWith("create_customer").
		Seed("email").
		Ask("product_ids", "Which products? (comma separated)").
		Validate("[string]")

	b.Workflow("create_customer").
		Ask("name", "What is the customer's name?").
		Ask("email", "What is the customer's email?").Validate("email").
		Ask("phone", "Phone number? (or 'skip')").Optional().Validate("phone")

	workflows, err := b.Build()
*/
package dsl
