package schema

// Default registry content for the Procast event budget database. A
// deployment can replace all of it at runtime with a YAML override file
// (see Registry.LoadFile); these values are the built-in baseline.

const defaultSummary = `PROCAST DATABASE - Event Budget Management System

DOMAINS:
1. PROJECTS: Projects, SubProjects, ProjectAccounts, ProjectPeople, Portfolios
2. BUDGETS: EntryLines (budget items), SubAccounts, EntryLine_H (history)
3. ACCOUNTS: Accounts, AccountCategories, LegalEntityAccounts
4. ACTUALS: Invoices, PurchaseOrders, Reconciliations
5. USERS: People, AspNetUsers, Companies
6. CURRENCY: Currencies, CurrencyTuples, ConstantFxRates, FinancialYears
7. REFERENCE: Countries, Regions, Industries, Divisions, CostCodes

KEY FACTS:
- Budget total = EntryLines.Amount × EntryLines.Quantity
- Status >= 2 means committed spending
- IsDisabled = true means soft-deleted (always filter)
- Projects.OriginalProjectId links scenario copies
- All monetary amounts need currency conversion via ConstantFxRates
`

const defaultRelationships = `## KEY JOIN PATHS

### Budget Flow (most common):
Projects → ProjectAccounts → EntryLines
Projects → ProjectAccounts → LegalEntityAccounts → Accounts → AccountCategories

### Actual Spending:
Invoices.AccountId → Accounts
PurchaseOrders.AccountId → Accounts

### Currency Conversion:
EntryLines.LocalCurrencyId → Currencies
Currencies → CurrencyTuples → ConstantFxRates ← FinancialYears

### User Context:
People → ProjectPeople → Projects
People → AspNetUsers
People → Companies

### History:
EntryLines triggers → EntryLine_H (automatic audit)
`

const defaultQueryPatterns = `## COMMON SQL PATTERNS

### Budget Total:
SELECT SUM(el."Amount" * el."Quantity") FROM "EntryLines" el WHERE el."IsDisabled" = false

### Committed vs Budgeted:
SUM(CASE WHEN el."Status" >= 2 THEN el."Amount" * el."Quantity" ELSE 0 END) as committed

### Join to Categories:
JOIN "LegalEntityAccounts" lea ON lea."Id" = pa."LegalEntityAccountId"
JOIN "Accounts" a ON a."Id" = lea."AccountId"
JOIN "AccountCategories" ac ON ac."Id" = a."SubAccountCategoryId"

### Exclude Scenarios:
WHERE p."OriginalProjectId" IS NULL

### Always Filter:
WHERE [table]."IsDisabled" = false
`

// defaultDomains lists every domain in presentation order. Keywords are
// matched at word starts against the lowercased question, so "categor"
// covers both "category" and "categories". Over-matching only widens the
// schema context; it never affects which tables a query may touch beyond
// adding to the allowed set for that request.
var defaultDomains = []Domain{
	{
		Name: "projects",
		Tables: []string{
			"Projects", "SubProjects", "ProjectAccounts", "ProjectPeople",
			"ProjectPortfolios", "Portfolios", "ProjectDivisions", "ProjectIndustries",
		},
		Keywords: []string{"project", "event", "edition", "portfolio", "scenario", "brand"},
		Schema: `## PROJECTS DOMAIN

### Projects (Main budget container - events)
- Id: uuid PK
- Brand: varchar(256) - Project/event name
- Edition: bigint - Edition number
- TakePlaceDate: date - Event date
- Type: integer - Project type
- OperatingCurrencyId: uuid FK → Currencies
- CountryId: uuid FK → Countries
- CostCodeId: uuid FK → CostCodes
- FolderId: uuid FK → Folders
- SharedWorkspaceId: uuid FK → SharedWorkspaces
- OriginalProjectId: uuid FK → Projects (for scenario clones)
- ScenarioName: varchar(1024)
- IsLocked: boolean
- ApprovalId: uuid FK → Approvals
- IsDisabled: boolean (soft delete)
- Created, CreatedBy, LastModified, LastModifiedBy (audit)

### SubProjects (Sub-events within a project)
- Id: uuid PK
- Name: varchar(256)
- ProjectId: uuid FK → Projects
- CostCodeId: uuid FK → CostCodes

### ProjectAccounts (Links projects to accounts)
- Id: uuid PK
- ProjectId: uuid FK → Projects
- LegalEntityAccountId: uuid FK → LegalEntityAccounts
- IsDisabled: boolean

### ProjectPeople (Team membership)
- Id: uuid PK
- PersonId: uuid FK → People
- ProjectId: uuid FK → Projects
- IsApprover: boolean
- IsOwner: boolean
- PersonalWorkspaceId: uuid FK

### Portfolios (Groups of projects)
- Id: uuid PK
- Name: varchar(1024)

### ProjectPortfolios (Many-to-many)
- ProjectId: uuid FK → Projects
- PortfolioId: uuid FK → Portfolios
`,
	},
	{
		Name:     "budgets",
		Tables:   []string{"EntryLines", "EntryLine_H", "SubAccounts", "EntryLineSubProject", "EntryStatuses"},
		Keywords: []string{"budget", "entry", "line item", "spend", "cost", "allocation", "overspend", "committed"},
		Schema: `## BUDGETS DOMAIN

### EntryLines (Core budget line items) ⭐ CRITICAL
- Id: uuid PK
- Description: varchar(2048)
- Quantity: double precision - Number of units
- Amount: double precision - Unit price
- Status: integer (0=Draft, 1=Pending, 2+=Committed)
- OwnerId: uuid FK → People
- ProjectAccountId: uuid FK → ProjectAccounts
- LocalCurrencyId: uuid FK → Currencies
- SubAccountId: uuid FK → SubAccounts (optional)
- EntryStatusId: uuid FK → EntryStatuses
- PurchaseOrderCode: varchar(1024)
- InvoiceRefCode: varchar(256)
- SupplierName: varchar(256)
- ReconciliationId: uuid FK → Reconciliations
- IsComputedInverse: boolean (revenue flag)
- IsDisabled: boolean

CALCULATION: Total = Amount × Quantity
FILTER: Always use IsDisabled = false

### EntryLine_H (Audit history of budget changes) ⭐ TREND ANALYSIS
- Id: uuid PK
- Action: text ("Line Added", "Line Deleted", "Changes in Line")
- TableName: text
- OldData: text (JSON)
- NewData: text (JSON)
- ProjectAccountId: uuid FK → ProjectAccounts
- LatestViewTotalCurrent: double - Running total after
- LatestViewTotalPrevious: double - Running total before
- Created: timestamptz
- CreatorId, LastModifierId: uuid FK → People

### SubAccounts (Sub-budget allocations)
- Id: uuid PK
- Name: text
- Amount: double - Budgeted amount
- AccountId: uuid FK → Accounts
- ProjectId: uuid FK → Projects
- ProjectAccountId: uuid FK → ProjectAccounts
- CurrencyId: uuid FK → Currencies

### EntryLineSubProject (Tags entries to sub-projects)
- EntryLinesId: uuid FK → EntryLines
- SubProjectsId: uuid FK → SubProjects

### EntryStatuses
- Id: uuid PK
- Name: varchar(256)
`,
	},
	{
		Name:     "accounts",
		Tables:   []string{"Accounts", "AccountCategories", "LegalEntityAccounts", "LegalEntities"},
		Keywords: []string{"account", "categor", "chart of", "legal entit"},
		Schema: `## ACCOUNTS DOMAIN

### AccountCategories (Hierarchical expense categories) ⭐
- Id: uuid PK
- Name: varchar(2048)
- ParentCategoryId: uuid FK → AccountCategories (self-reference for hierarchy)
- CategoryPosition: integer (display order)
- IsDisabled: boolean

### Accounts (Chart of accounts)
- Id: uuid PK
- Number: bigint - Account number (e.g., 5000, 6000)
- Description: varchar(2048)
- SubAccountCategoryId: uuid FK → AccountCategories
- IsDisabled: boolean

### LegalEntityAccounts (Accounts available to each legal entity)
- Id: uuid PK
- LegalEntityId: uuid FK → LegalEntities
- AccountId: uuid FK → Accounts

### LegalEntities (Legal entity/subsidiary)
- Id: uuid PK
- Name: varchar(1024)
- NickName: text
- CountryId: uuid FK → Countries
- EntityCurrencyId: uuid FK → Currencies
`,
	},
	{
		Name:     "actuals",
		Tables:   []string{"Invoices", "PurchaseOrders", "Reconciliations"},
		Keywords: []string{"invoice", "purchase order", "actual", "reconcil", "paid", "posted"},
		Schema: `## ACTUALS DOMAIN (Realized spending)

### Invoices ⭐ ACTUAL SPENDING
- Id: uuid PK
- TransactionId: text - External reference
- TransactionType: text
- DateApplied: timestamptz - Invoice date
- HeaderDescription: text
- LineDescription: text
- EntityCurrencyId: uuid FK → Currencies
- EntityCurrencyTotal: numeric
- LocalCurrencyId: uuid FK → Currencies
- LocalCurrencyTotal: numeric
- PostedFlag: boolean - Is invoice posted
- PostedDate: timestamptz
- PostedBy: text
- CostCodeId: uuid FK → CostCodes
- AccountId: uuid FK → Accounts
- InvoiceRefCode: text
- PurchaseOrderCode: text
- ReconciliationId: uuid FK → Reconciliations
- LegalEntityName: text
- IsNetOffed: boolean
- IsDisabled: boolean

### PurchaseOrders ⭐ COMMITTED SPENDING
- Id: uuid PK
- TransactionId: text
- PurchaseOrderCode: text
- PurchaseOrderStatus: integer (0=Draft, 1=Approved, etc.)
- EntityCurrencyTotal: numeric
- LocalCurrencyTotal: numeric
- DateApplied: timestamptz
- PostedFlag: boolean
- CostCodeId: uuid FK → CostCodes
- AccountId: uuid FK → Accounts
- LegalEntityName: text
- EntityCurrencyId, LocalCurrencyId: uuid FK → Currencies

### Reconciliations
- Id: uuid PK
- Created: timestamptz
`,
	},
	{
		Name:     "users",
		Tables:   []string{"People", "AspNetUsers", "AspNetRoles", "AspNetUserRoles", "Companies"},
		Keywords: []string{"people", "person", "user", "team", "member", "owner", "compan"},
		Schema: `## USERS DOMAIN

### People (Central user entity) ⭐
- Id: uuid PK
- Email: varchar(256) UNIQUE
- FirstName: varchar(512)
- LastName: text
- AvatarUrl: varchar(4096)
- CompanyId: uuid FK → Companies
- IsArchived: boolean
- IsDisabled: boolean

### AspNetUsers (Identity)
- Id: text PK
- PersonId: uuid FK → People
- UserName: varchar(256)
- Email: varchar(256)
- FirstLogin: boolean
- TwoFactorEnabled: boolean

### Companies (Organizations)
- Id: uuid PK
- Name: varchar(1024)
- Address: varchar(1024)
- PhoneNumber: varchar(128)
- Email: varchar(256)
- LogoUrl: varchar(4096)
- ReportingCurrencyId: uuid FK → Currencies
- IsInverseRevenue: boolean
`,
	},
	{
		Name:     "currency",
		Tables:   []string{"Currencies", "CurrencyTuples", "ConstantFxRates", "FinancialYears"},
		Keywords: []string{"currenc", "exchange", "fx", "conversion", "usd", "eur", "gbp", "dollar", "euro"},
		Schema: `## CURRENCY DOMAIN

### Currencies
- Id: uuid PK
- IsoCode: varchar(3) - ISO 4217 (USD, EUR, GBP)

### CurrencyTuples (Conversion pairs)
- Id: uuid PK
- FromCurrencyId: uuid FK → Currencies
- ToCurrencyId: uuid FK → Currencies

### ConstantFxRates ⭐ CURRENCY CONVERSION
- Id: uuid PK
- MonthOrder: integer (1-12)
- Value: double - Exchange rate
- FinancialYearId: uuid FK → FinancialYears
- CurrencyTupleId: uuid FK → CurrencyTuples

USAGE: Convert via CurrencyTuples → ConstantFxRates

### FinancialYears
- Id: uuid PK
- Year: integer (2024, 2025)
- StartDate: date
- EndDate: date
`,
	},
	{
		Name:     "reference",
		Tables:   []string{"Countries", "Regions", "Industries", "Divisions", "CostCodes", "Folders"},
		Keywords: []string{"country", "countries", "region", "industr", "division", "cost code"},
		Schema: `## REFERENCE DOMAIN

### Countries
- Id: uuid PK
- IsoCode: varchar(3) - ISO 3166
- Name: varchar(256)

### Regions
- Id: uuid PK
- Name: varchar(256)

### Industries
- Id: uuid PK
- Name: varchar(256)

### Divisions
- Id: uuid PK
- Name: varchar(256)

### CostCodes
- Id: uuid PK
- Code: varchar(128)
- Description: varchar(1024)

### Folders
- Id: uuid PK
- Name: varchar(256)
- PersonalWorkspaceId: uuid FK
- SharedWorkspaceId: uuid FK
`,
	},
	{
		Name:     "workspaces",
		Tables:   []string{"PersonalWorkspaces", "SharedWorkspaces", "Folders"},
		Keywords: []string{"workspace", "folder"},
		Schema: `## WORKSPACES DOMAIN

### PersonalWorkspaces
- Id: uuid PK
- Name: varchar(256)

### SharedWorkspaces
- Id: uuid PK
- Name: varchar(256)

### Folders
- Id: uuid PK
- Name: varchar(256)
- PersonalWorkspaceId: uuid FK → PersonalWorkspaces
- SharedWorkspaceId: uuid FK → SharedWorkspaces
`,
	},
	{
		Name:     "approvals",
		Tables:   []string{"Approvals", "ReviewRequests", "ReviewRequestPeople"},
		Keywords: []string{"approval", "approve", "review"},
		Schema: `## APPROVALS DOMAIN

### Approvals
- Id: uuid PK
- Status: integer
- Description: varchar(4096)
- PersonId: uuid FK → People

### ReviewRequests
- Id: uuid PK
- PersonId: uuid FK → People (requester)
- TargetedDbEntityId: uuid
- TargetedDbEntityTypeId: uuid FK

### ReviewRequestPeople
- Id: uuid PK
- ReviewRequestId: uuid FK → ReviewRequests
- PersonId: uuid FK → People
`,
	},
}
