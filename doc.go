/*
Package espalier is a guided, multi-turn workflow engine for conversational agents.

A workflow declares the fields it collects from the user, the records it needs
to reference and the action it runs once everything is in place. When a
referenced record does not exist, espalier pushes the workflow that creates it,
runs it to completion and resumes the original one with the new identity. Each
session keeps its own stack of active workflows, persisted between turns.

# Concept

The Engine owns no I/O. Your application ("Host") feeds it one message per turn
and presents the returned prompt. Storage, entity lookups, value extraction and
actions are ports (see package ports), so the same engine runs behind a CLI, an
HTTP API or an MCP server.

# Usage

	b := dsl.New()
	b.Workflow("create_invoice").
		Needs("customer", "email").Validate("email").CreateWith("create_customer").
		Ask("product_ids", "Which products?").Validate("[string]")
	b.Workflow("create_customer").
		Ask("email", "Email?").Validate("email").
		Ask("name", "Name?")

	workflows, err := b.Build()
	if err != nil {
		log.Fatal(err)
	}

	engine, err := espalier.New(workflows,
		espalier.WithEntities(customers),
		espalier.WithActions(actions),
	)
	if err != nil {
		log.Fatal(err)
	}

	resp, err := engine.Start(ctx, "session-1", "user-1", "create_invoice", nil)
	for err == nil && resp.Status == domain.StatusNeedsInput {
		fmt.Println(resp.Prompt)
		resp, err = engine.Turn(ctx, domain.Turn{SessionID: "session-1", Message: readLine()})
	}

Replying "/abort" at any point discards every workflow of the session.
*/
package espalier
