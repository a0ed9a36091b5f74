package models

// FieldSpec names a critical column. Text columns also count as empty when
// they hold the empty string.
type FieldSpec struct {
	Column string
	Text   bool
}

// Capability is the static description of one source table
type Capability struct {
	Source           string
	Table            string
	CriticalFields   []FieldSpec
	HasDotReference  bool
	HasLegacyDotCode bool
	// Headline tables feed the data quality score denominator
	Headline bool
}

func text(col string) FieldSpec   { return FieldSpec{Column: col, Text: true} }
func column(col string) FieldSpec { return FieldSpec{Column: col} }

var revenueLineCritical = []FieldSpec{
	text("department"), text("customer_code"), column("revenue_amount"), column("total_amount"),
}

// Capabilities lists every source table in the fixed scan order
var Capabilities = []Capability{
	{
		Source: DataSourceJournal,
		Table:  SalesJournal{}.TableName(),
		CriticalFields: []FieldSpec{
			text("organization"), text("invoice_number"), column("invoice_date"),
			column("revenue_amount"), text("account_code"),
		},
		HasDotReference:  true,
		HasLegacyDotCode: true,
		Headline:         true,
	},
	{
		Source: DataSourceEtat,
		Table:  CollectionStatement{}.TableName(),
		CriticalFields: []FieldSpec{
			text("organization"), text("invoice_number"), column("invoice_date"),
			column("collection_date"), column("collected_amount"), column("invoice_amount"),
		},
		HasDotReference:  true,
		HasLegacyDotCode: true,
		Headline:         true,
	},
	{
		Source: DataSourceParc,
		Table:  SubscriberRoster{}.TableName(),
		CriticalFields: []FieldSpec{
			text("customer_code"), text("customer_name"), text("offer_name"), text("subscriber_status"),
		},
		HasDotReference: true,
		Headline:        true,
	},
	{
		Source: DataSourceCreance,
		Table:  Receivable{}.TableName(),
		CriticalFields: []FieldSpec{
			text("product"), text("customer_level1"), column("invoiced_amount"), column("open_amount"),
		},
		HasDotReference:  true,
		HasLegacyDotCode: true,
	},
	{
		Source:           DataSourcePeriodicRevenue,
		Table:            PeriodicRevenue{}.TableName(),
		CriticalFields:   []FieldSpec{text("product"), column("revenue_amount"), column("total_amount")},
		HasDotReference:  true,
		HasLegacyDotCode: true,
	},
	{
		Source:           DataSourceNonPeriodic,
		Table:            NonPeriodicRevenue{}.TableName(),
		CriticalFields:   []FieldSpec{text("product"), column("revenue_amount"), column("total_amount")},
		HasDotReference:  true,
		HasLegacyDotCode: true,
	},
	{
		Source:           DataSourceAdjustmentRev,
		Table:            AdjustmentRevenue{}.TableName(),
		CriticalFields:   revenueLineCritical,
		HasDotReference:  true,
		HasLegacyDotCode: true,
	},
	{
		Source:           DataSourceRefundRevenue,
		Table:            RefundRevenue{}.TableName(),
		CriticalFields:   revenueLineCritical,
		HasDotReference:  true,
		HasLegacyDotCode: true,
	},
	{
		Source:           DataSourceCancellationRev,
		Table:            CancellationRevenue{}.TableName(),
		CriticalFields:   revenueLineCritical,
		HasDotReference:  true,
		HasLegacyDotCode: true,
	},
}

// CapabilityFor returns the capability of a data source tag
func CapabilityFor(source string) (Capability, bool) {
	for _, c := range Capabilities {
		if c.Source == source {
			return c, true
		}
	}
	return Capability{}, false
}

// HeadlineTables returns the table names used for the data quality score
func HeadlineTables() []string {
	var out []string
	for _, c := range Capabilities {
		if c.Headline {
			out = append(out, c.Table)
		}
	}
	return out
}

// AllModels returns every entity in dependency order, for migrations
func AllModels() []any {
	return []any{
		&Invoice{},
		&Territory{},
		&SalesJournal{},
		&CollectionStatement{},
		&SubscriberRoster{},
		&Receivable{},
		&PeriodicRevenue{},
		&NonPeriodicRevenue{},
		&AdjustmentRevenue{},
		&RefundRevenue{},
		&CancellationRevenue{},
		&Anomaly{},
	}
}
