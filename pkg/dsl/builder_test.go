package dsl

import (
	"testing"

	"github.com/aretw0/espalier/pkg/domain"
)

func TestBuilder_InvoiceFlow(t *testing.T) {
	b := New()

	b.Workflow("create_invoice").
		Goal("Issue an invoice").
		Needs("customer", "customer_email").
		Prompt("Customer email?").
		Validate("email").
		CreateWith("create_customer").
		Seed("email").
		Ask("product_ids", "Which products?").
		Validate("[string]")

	b.Workflow("create_customer").
		Do("customers.create").
		Ask("name", "Name?").
		Ask("email", "Email?").Validate("email").
		Ask("phone", "Phone?").Optional().Validate("phone").Hint("digits only")

	workflows, err := b.Build()
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	ids := workflows.List()
	if len(ids) != 2 {
		t.Fatalf("expected 2 workflows, got %v", ids)
	}

	invoice, err := workflows.Get("create_invoice")
	if err != nil {
		t.Fatalf("Get(create_invoice) failed: %v", err)
	}
	if invoice.FinalAction != "create_invoice" {
		t.Errorf("final action should default to the id, got %q", invoice.FinalAction)
	}
	if len(invoice.Entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(invoice.Entities))
	}
	customer := invoice.Entities[0]
	if customer.ResolvedKey != "customer_id" || customer.SubWorkflow != "create_customer" || !customer.CreateIfMissing {
		t.Errorf("unexpected requirement: %+v", customer)
	}
	if plan := invoice.Plan(); plan[0].Name != "customer_email" || plan[0].Validator != "email" {
		t.Errorf("implicit search field should come first: %+v", plan)
	}

	created, _ := workflows.Get("create_customer")
	if created.FinalAction != "customers.create" {
		t.Errorf("expected overridden action, got %q", created.FinalAction)
	}
	phone := created.Fields[2]
	if phone.Required || !phone.AllowSkip || phone.Hint != "digits only" {
		t.Errorf("phone should be optional and skippable: %+v", phone)
	}
}

func TestBuilder_InvalidSet(t *testing.T) {
	b := New()
	b.Workflow("orphan").
		Needs("customer", "email").
		CreateWith("does_not_exist")

	if _, err := b.Build(); err == nil {
		t.Fatal("expected an error for a missing sub-workflow")
	}
}

func TestBuilder_WorkflowIsIdempotent(t *testing.T) {
	b := New()
	first := b.Workflow("w").Goal("first")
	second := b.Workflow("w")
	if first != second {
		t.Error("Workflow should return the existing builder")
	}
	defs := b.Definitions()
	if len(defs) != 1 || defs[0].Goal != "first" {
		t.Errorf("unexpected definitions: %+v", defs)
	}
	var _ domain.WorkflowDefinition = second.Definition()
}
