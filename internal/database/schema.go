package database

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id BIGINT PRIMARY KEY,
    username VARCHAR(255),
    first_name VARCHAR(255),
    stars_balance INT NOT NULL DEFAULT 0,
    spent INT NOT NULL DEFAULT 0,
    referrer_id BIGINT NULL,
    referrals_count INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,

	`CREATE TABLE IF NOT EXISTS collections (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    image_key VARCHAR(255),
    price INT NOT NULL,
    total_supply INT NOT NULL,
    sold_count INT NOT NULL DEFAULT 0,
    updateble TINYINT(1) NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,

	`CREATE TABLE IF NOT EXISTS nft_models (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    collection_id BIGINT NOT NULL,
    name VARCHAR(255) NOT NULL,
    rarity INT NOT NULL DEFAULT 1,
    image_key VARCHAR(255),
    FOREIGN KEY (collection_id) REFERENCES collections(id)
)`,

	`CREATE TABLE IF NOT EXISTS nft_backgrounds (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    collection_id BIGINT NOT NULL,
    name VARCHAR(255) NOT NULL,
    rarity INT NOT NULL DEFAULT 1,
    image_key VARCHAR(255),
    FOREIGN KEY (collection_id) REFERENCES collections(id)
)`,

	`CREATE TABLE IF NOT EXISTS nft_patterns (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    collection_id BIGINT NOT NULL,
    name VARCHAR(255) NOT NULL,
    rarity INT NOT NULL DEFAULT 1,
    image_key VARCHAR(255),
    FOREIGN KEY (collection_id) REFERENCES collections(id)
)`,

	`CREATE TABLE IF NOT EXISTS nfts (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    collection_id BIGINT NOT NULL,
    owner_id BIGINT NOT NULL,
    number INT NOT NULL,
    model_id BIGINT NULL,
    background_id BIGINT NULL,
    pattern_id BIGINT NULL,
    upgraded TINYINT(1) NOT NULL DEFAULT 0,
    pinned TINYINT(1) NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_collection_number (collection_id, number),
    FOREIGN KEY (collection_id) REFERENCES collections(id),
    FOREIGN KEY (owner_id) REFERENCES users(id)
)`,

	`CREATE TABLE IF NOT EXISTS sale_listings (
    nft_id BIGINT PRIMARY KEY,
    seller_id BIGINT NOT NULL,
    price INT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (nft_id) REFERENCES nfts(id),
    FOREIGN KEY (seller_id) REFERENCES users(id)
)`,

	`CREATE TABLE IF NOT EXISTS transactions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    type VARCHAR(16) NOT NULL,
    amount INT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_transactions_user (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,

	`CREATE TABLE IF NOT EXISTS transfer_logs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    ref CHAR(36) NOT NULL,
    nft_id BIGINT NOT NULL,
    from_user_id BIGINT NOT NULL,
    to_user_id BIGINT NOT NULL,
    type VARCHAR(16) NOT NULL,
    amount INT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_transfer_logs_nft (nft_id, created_at),
    KEY idx_transfer_logs_to (to_user_id, created_at),
    FOREIGN KEY (nft_id) REFERENCES nfts(id)
)`,
}
