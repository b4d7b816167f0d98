package auction

import "strings"

// Categories a listing can be browsed under.
const (
	CategoryWeapons     = "Weapons"
	CategoryArmor       = "Armor"
	CategoryTools       = "Tools"
	CategoryConsumables = "Consumables"
	CategoryBlocks      = "Blocks"
	CategoryEnchanted   = "Enchanted Books"
	CategoryMisc        = "Misc"
)

// DetectCategory classifies an item by its material name.
func DetectCategory(material string) string {
	m := strings.ToUpper(material)

	switch {
	case m == "ENCHANTED_BOOK":
		return CategoryEnchanted
	case isWeapon(m):
		return CategoryWeapons
	case isArmor(m):
		return CategoryArmor
	case isTool(m):
		return CategoryTools
	case isConsumable(m):
		return CategoryConsumables
	case isBlock(m):
		return CategoryBlocks
	}
	return CategoryMisc
}

func isWeapon(m string) bool {
	return strings.HasSuffix(m, "_SWORD") || strings.HasSuffix(m, "_AXE") ||
		m == "BOW" || m == "CROSSBOW" || m == "TRIDENT" || m == "MACE"
}

func isArmor(m string) bool {
	return strings.HasSuffix(m, "_HELMET") || strings.HasSuffix(m, "_CHESTPLATE") ||
		strings.HasSuffix(m, "_LEGGINGS") || strings.HasSuffix(m, "_BOOTS") ||
		strings.HasSuffix(m, "_HORSE_ARMOR") || m == "SHIELD" || m == "ELYTRA"
}

func isTool(m string) bool {
	return strings.HasSuffix(m, "_PICKAXE") || strings.HasSuffix(m, "_SHOVEL") ||
		strings.HasSuffix(m, "_HOE") || m == "FISHING_ROD" || m == "SHEARS" ||
		m == "FLINT_AND_STEEL" || m == "BRUSH" || m == "SPYGLASS"
}

func isConsumable(m string) bool {
	return strings.Contains(m, "POTION") || strings.HasSuffix(m, "_APPLE") ||
		m == "BREAD" || m == "COOKED_BEEF" || m == "GOLDEN_CARROT" ||
		m == "MILK_BUCKET" || m == "HONEY_BOTTLE"
}

func isBlock(m string) bool {
	return strings.HasSuffix(m, "_BLOCK") || strings.HasSuffix(m, "_PLANKS") ||
		strings.HasSuffix(m, "_LOG") || strings.HasSuffix(m, "_ORE") ||
		m == "STONE" || m == "COBBLESTONE" || m == "DIRT" || m == "SAND" ||
		m == "GRAVEL" || m == "OBSIDIAN" || m == "GLASS"
}
