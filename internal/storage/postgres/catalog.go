package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

const productColumns = `id, name, description, brand, model, category, base_price, base_stock,
	has_variants, is_active, featured, image_urls, created_at, updated_at`

const variantColumns = `id, product_id, type, name, description, price_modifier, stock,
	is_available, sort_order`

const (
	getProductSQL  = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	getProductsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1::uuid[]) ORDER BY id`

	listVariantsSQL = `SELECT ` + variantColumns + ` FROM product_variants
	WHERE product_id = ANY($1::uuid[])
	ORDER BY product_id, sort_order, type, name`

	decrementProductStockSQL = `UPDATE products
	SET base_stock = base_stock - $2, updated_at = now()
	WHERE id = $1 AND base_stock >= $2`

	decrementVariantStockSQL = `UPDATE product_variants
	SET stock = stock - $2
	WHERE id = $1 AND stock >= $2`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		description = EXCLUDED.description,
		brand = EXCLUDED.brand,
		model = EXCLUDED.model,
		category = EXCLUDED.category,
		base_price = EXCLUDED.base_price,
		base_stock = EXCLUDED.base_stock,
		has_variants = EXCLUDED.has_variants,
		is_active = EXCLUDED.is_active,
		featured = EXCLUDED.featured,
		image_urls = EXCLUDED.image_urls,
		updated_at = now()
	RETURNING created_at, updated_at`

	// Variants without an id are matched by (type, name).
	upsertVariantByNameSQL = `INSERT INTO product_variants (` + variantColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (product_id, type, name) DO UPDATE SET
		description = EXCLUDED.description,
		price_modifier = EXCLUDED.price_modifier,
		stock = EXCLUDED.stock,
		is_available = EXCLUDED.is_available,
		sort_order = EXCLUDED.sort_order
	RETURNING id`

	upsertVariantByIDSQL = `INSERT INTO product_variants (` + variantColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		type = EXCLUDED.type,
		name = EXCLUDED.name,
		description = EXCLUDED.description,
		price_modifier = EXCLUDED.price_modifier,
		stock = EXCLUDED.stock,
		is_available = EXCLUDED.is_available,
		sort_order = EXCLUDED.sort_order
	RETURNING id`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	q querier
}

// GetProduct returns the product with its variants. Unknown ids yield an
// apperr.NotFoundError.
func (r *CatalogRepository) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	p, err := scanProduct(r.q.QueryRow(ctx, getProductSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("product", id)
		}
		return nil, errors.Wrapf(err, "get product %s", id)
	}

	byProduct, err := r.variants(ctx, []string{id.String()})
	if err != nil {
		return nil, err
	}
	p.Variants = byProduct[p.ID]
	return &p, nil
}

// GetProducts returns the products found among ids. Missing ids are skipped.
func (r *CatalogRepository) GetProducts(ctx context.Context, ids []uuid.UUID) ([]catalog.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := uuidStrings(ids)

	rows, err := r.q.Query(ctx, getProductsSQL, keys)
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Product, error) {
		return scanProduct(row)
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan products")
	}

	byProduct, err := r.variants(ctx, keys)
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i].Variants = byProduct[products[i].ID]
	}
	return products, nil
}

func (r *CatalogRepository) variants(ctx context.Context, productIDs []string) (map[uuid.UUID][]catalog.Variant, error) {
	rows, err := r.q.Query(ctx, listVariantsSQL, productIDs)
	if err != nil {
		return nil, errors.Wrap(err, "query variants")
	}
	variants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Variant, error) {
		var (
			v   catalog.Variant
			typ string
		)
		err := row.Scan(&v.ID, &v.ProductID, &typ, &v.Name, &v.Description,
			&v.PriceModifier, &v.Stock, &v.IsAvailable, &v.SortOrder)
		v.Type = catalog.VariantType(typ)
		return v, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan variants")
	}

	out := make(map[uuid.UUID][]catalog.Variant)
	for _, v := range variants {
		out[v.ProductID] = append(out[v.ProductID], v)
	}
	return out, nil
}

// DecrementProductStock subtracts qty from the base stock of a product. The
// WHERE guard makes the check and the write a single atomic statement.
func (r *CatalogRepository) DecrementProductStock(ctx context.Context, productID uuid.UUID, qty int) error {
	tag, err := r.q.Exec(ctx, decrementProductStockSQL, productID, qty)
	if err != nil {
		return errors.Wrapf(err, "decrement product %s stock", productID)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrStockConflict
	}
	return nil
}

// DecrementVariantStock subtracts qty from the stock of a variant.
func (r *CatalogRepository) DecrementVariantStock(ctx context.Context, variantID uuid.UUID, qty int) error {
	tag, err := r.q.Exec(ctx, decrementVariantStockSQL, variantID, qty)
	if err != nil {
		return errors.Wrapf(err, "decrement variant %s stock", variantID)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrStockConflict
	}
	return nil
}

// UpsertProduct writes p and its variants. Variant ids assigned by the
// database are written back to p.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p *catalog.Product) error {
	imageURLs := p.ImageURLs
	if imageURLs == nil {
		imageURLs = []string{}
	}
	err := r.q.QueryRow(ctx, upsertProductSQL,
		p.ID, p.Name, p.Description, p.Brand, p.Model, p.Category, p.BasePrice,
		p.BaseStock, p.HasVariants, p.IsActive, p.Featured, imageURLs,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "upsert product %s", p.ID)
	}

	for i := range p.Variants {
		v := &p.Variants[i]
		v.ProductID = p.ID

		query, id := upsertVariantByIDSQL, v.ID
		if id == uuid.Nil {
			query, id = upsertVariantByNameSQL, uuid.New()
		}
		err := r.q.QueryRow(ctx, query,
			id, v.ProductID, string(v.Type), v.Name, v.Description, v.PriceModifier,
			v.Stock, v.IsAvailable, v.SortOrder,
		).Scan(&v.ID)
		if err != nil {
			return errors.Wrapf(err, "upsert variant %s/%s of %s", v.Type, v.Name, p.ID)
		}
	}
	return nil
}

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Brand, &p.Model, &p.Category,
		&p.BasePrice, &p.BaseStock, &p.HasVariants, &p.IsActive, &p.Featured, &p.ImageURLs,
		&p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// uuidStrings renders ids for binding to a uuid[] parameter.
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
