package testhelpers

// targetSeedStatements builds the scan-target schema: a customers table
// carrying direct identifiers (email, phone, national ID) alongside
// quasi-identifiers (zip code, birth date, gender, city), and an orders
// table whose foreign key should be excluded from quasi-identifier
// analysis. Statements are executed one at a time because the extended
// query protocol rejects multi-statement strings.
var targetSeedStatements = []string{
	`CREATE TABLE customers (
		id SERIAL PRIMARY KEY,
		full_name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT NOT NULL,
		ssn TEXT NOT NULL,
		zip_code TEXT NOT NULL,
		birth_date DATE NOT NULL,
		gender TEXT NOT NULL,
		city TEXT NOT NULL,
		notes TEXT NOT NULL
	)`,

	`COMMENT ON COLUMN customers.ssn IS 'social security number, stored unmasked'`,
	`COMMENT ON COLUMN customers.notes IS 'free-form text, may contain email addresses'`,

	`INSERT INTO customers (full_name, email, phone, ssn, zip_code, birth_date, gender, city, notes)
	SELECT
		'Customer ' || i,
		format('user%s@example.com', i),
		format('202-555-%s', lpad((100 + i)::text, 4, '0')),
		format('%s-%s-%s',
			100 + (i * 7) % 800,
			lpad((10 + i % 89)::text, 2, '0'),
			lpad((1000 + i * 13)::text, 4, '0')),
		lpad(((10000 + i * 37) % 100000)::text, 5, '0'),
		date '1955-01-01' + (i * 137 % 16000),
		(ARRAY['female', 'male', 'nonbinary'])[1 + i % 3],
		(ARRAY['Portland', 'Austin', 'Denver', 'Madison', 'Boise'])[1 + i % 5],
		CASE WHEN i % 7 = 0
			THEN format('follow up with user%s@example.com', i)
			ELSE 'routine account review'
		END
	FROM generate_series(1, 100) AS i`,

	`CREATE TABLE orders (
		id SERIAL PRIMARY KEY,
		customer_id INTEGER NOT NULL REFERENCES customers(id),
		total NUMERIC(10, 2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`INSERT INTO orders (customer_id, total, created_at)
	SELECT
		1 + (i % 100),
		round(((i * 113) % 50000)::numeric / 100, 2),
		NOW() - (i || ' hours')::interval
	FROM generate_series(1, 200) AS i`,
}
