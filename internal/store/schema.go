package store

// Schema is the gateway's DDL; no code in this repository executes it.
// It encodes the entity graph
// of spec §3 (Account -> Binding -> Order -> Trade, Account -> Binding ->
// Position -> PositionHistory) and the indexes spec §6 requires.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id                    UUID PRIMARY KEY,
    display_name          TEXT NOT NULL,
    email                 TEXT NOT NULL UNIQUE,
    active                BOOLEAN NOT NULL DEFAULT true,
    password_hash         TEXT NOT NULL,
    max_position_size_usd NUMERIC(38,18) NOT NULL DEFAULT 0,
    max_leverage          NUMERIC(38,18) NOT NULL DEFAULT 1,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS venue_bindings (
    id                     UUID PRIMARY KEY,
    account_id             UUID NOT NULL REFERENCES accounts(id),
    venue                  TEXT NOT NULL,
    name                   TEXT NOT NULL,
    testnet                BOOLEAN NOT NULL DEFAULT false,
    active                 BOOLEAN NOT NULL DEFAULT true,
    api_key_enc            BYTEA,
    api_secret_enc         BYTEA,
    private_key_enc        BYTEA,
    wallet_address         TEXT,
    vault_index            INTEGER,
    requests_per_minute    INTEGER NOT NULL DEFAULT 60,
    balance_total          NUMERIC(38,18) NOT NULL DEFAULT 0,
    balance_available      NUMERIC(38,18) NOT NULL DEFAULT 0,
    balance_margin         NUMERIC(38,18) NOT NULL DEFAULT 0,
    balance_unrealized_pnl NUMERIC(38,18) NOT NULL DEFAULT 0,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (account_id, venue, name)
);

CREATE TABLE IF NOT EXISTS orders (
    id              UUID PRIMARY KEY,
    venue_order_id  TEXT,
    idempotency_id  TEXT UNIQUE,
    account_id      UUID NOT NULL REFERENCES accounts(id),
    binding_id      UUID NOT NULL REFERENCES venue_bindings(id),
    symbol          TEXT NOT NULL,
    side            TEXT NOT NULL,
    kind            TEXT NOT NULL,
    quantity        NUMERIC(38,18) NOT NULL,
    limit_price     NUMERIC(38,18),
    stop_price      NUMERIC(38,18),
    time_in_force   TEXT NOT NULL,
    reduce_only     BOOLEAN NOT NULL DEFAULT false,
    post_only       BOOLEAN NOT NULL DEFAULT false,
    isolated        BOOLEAN NOT NULL DEFAULT false,
    status          TEXT NOT NULL,
    filled_qty      NUMERIC(38,18) NOT NULL DEFAULT 0,
    avg_fill_price  NUMERIC(38,18) NOT NULL DEFAULT 0,
    fee_accumulated NUMERIC(38,18) NOT NULL DEFAULT 0,
    fee_asset       TEXT,
    retry_count     INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT,
    placed_at       TIMESTAMPTZ,
    filled_at       TIMESTAMPTZ,
    canceled_at     TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_orders_binding_status ON orders (binding_id, status);
CREATE INDEX IF NOT EXISTS idx_orders_venue_order_id ON orders (venue_order_id);

CREATE TABLE IF NOT EXISTS trades (
    id             UUID PRIMARY KEY,
    order_id       UUID NOT NULL REFERENCES orders(id),
    venue_trade_id TEXT,
    quantity       NUMERIC(38,18) NOT NULL,
    price          NUMERIC(38,18) NOT NULL,
    maker          BOOLEAN NOT NULL DEFAULT false,
    fee            NUMERIC(38,18) NOT NULL DEFAULT 0,
    fee_asset      TEXT,
    realized_pnl   NUMERIC(38,18),
    executed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades (executed_at);
CREATE INDEX IF NOT EXISTS idx_trades_order_id ON trades (order_id);

CREATE TABLE IF NOT EXISTS positions (
    id                  UUID PRIMARY KEY,
    binding_id          UUID NOT NULL REFERENCES venue_bindings(id),
    symbol              TEXT NOT NULL,
    side                TEXT NOT NULL,
    quantity            NUMERIC(38,18) NOT NULL,
    initial_quantity    NUMERIC(38,18) NOT NULL,
    entry_price         NUMERIC(38,18) NOT NULL,
    mark_price          NUMERIC(38,18) NOT NULL,
    liquidation_price   NUMERIC(38,18),
    unrealized_pnl      NUMERIC(38,18) NOT NULL DEFAULT 0,
    realized_pnl        NUMERIC(38,18) NOT NULL DEFAULT 0,
    margin              NUMERIC(38,18) NOT NULL DEFAULT 0,
    margin_ratio        NUMERIC(38,18) NOT NULL DEFAULT 0,
    leverage            NUMERIC(38,18) NOT NULL DEFAULT 1,
    isolated            BOOLEAN NOT NULL DEFAULT false,
    stop_loss_price     NUMERIC(38,18),
    stop_loss_order_id  TEXT,
    take_profit_price   NUMERIC(38,18),
    take_profit_order_id TEXT,
    status              TEXT NOT NULL,
    opened_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    closed_at           TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_positions_binding_symbol_status ON positions (binding_id, symbol, status);

CREATE TABLE IF NOT EXISTS position_history (
    id              UUID PRIMARY KEY,
    position_id     UUID NOT NULL REFERENCES positions(id),
    quantity        NUMERIC(38,18) NOT NULL,
    mark_price      NUMERIC(38,18) NOT NULL,
    unrealized_pnl  NUMERIC(38,18) NOT NULL,
    realized_pnl    NUMERIC(38,18) NOT NULL,
    margin          NUMERIC(38,18) NOT NULL,
    delta           NUMERIC(38,18) NOT NULL,
    recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_position_history_position_id ON position_history (position_id, recorded_at);
`
